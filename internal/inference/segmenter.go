// Package inference wraps the U²-Net background-removal model the REMBG
// pool depends on. The model is a shared immutable handle, loaded once at
// startup; if its weights or runtime are unavailable the pool reports
// itself unavailable instead of inserting jobs.
package inference

import (
	"image"
	"image/color"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/codec"
)

// Options mirrors the original's RemovalOptions: a binarization threshold
// and a flag selecting hard (binary) vs soft alpha matting.
type Options struct {
	Threshold int // 0..255
	Binary    bool
}

// Result is the pair of images one segmentation call produces.
type Result struct {
	Composited *image.RGBA // input with background replaced by alpha 0
	Mask       *image.RGBA // greyscale alpha mask, replicated across RGB
}

// Segmenter runs background removal against a loaded model.
type Segmenter interface {
	Segment(img image.Image, opts Options) (Result, error)
	Available() bool
}

// modelSize is the fixed square input/output resolution U²-Net expects;
// every image is resized to this before inference regardless of its
// original dimensions.
const modelSize = 320

// u2netSegmenter is the ONNX-backed Segmenter, initialized once from
// modelPath and shared across all REMBG workers. The session's input and
// output tensors are allocated once at init and reused on every call, so
// runMu serializes Segment calls rather than letting the session run
// concurrently against a shared buffer.
type u2netSegmenter struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	runMu        sync.Mutex
	initOnce     sync.Once
	initErr      error
	modelPath    string
}

// New constructs a Segmenter bound to modelPath. Loading is lazy: the
// ONNX runtime and model weights are only touched the first time
// Available or Segment is called, so a missing model never blocks
// startup.
func New(modelPath string) Segmenter {
	return &u2netSegmenter{modelPath: modelPath}
}

// Available reports whether the model file exists and the runtime
// session could be created. An unavailable model causes the pool to
// refuse submissions rather than fail jobs.
func (s *u2netSegmenter) Available() bool {
	s.initOnce.Do(s.init)
	return s.initErr == nil
}

func (s *u2netSegmenter) init() {
	if _, err := os.Stat(s.modelPath); err != nil {
		s.initErr = boterror.New(boterror.KindInference, "model-file-missing").With(err)
		return
	}

	if err := ort.InitializeEnvironment(); err != nil {
		s.initErr = boterror.New(boterror.KindInference, "onnxruntime-init-failed").With(err)
		return
	}

	inputNames := []string{"input"}
	outputNames := []string{"output"}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, modelSize, modelSize))
	if err != nil {
		s.initErr = boterror.New(boterror.KindInference, "input-tensor-create-failed").With(err)
		return
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, modelSize, modelSize))
	if err != nil {
		inputTensor.Destroy()
		s.initErr = boterror.New(boterror.KindInference, "output-tensor-create-failed").With(err)
		return
	}

	session, err := ort.NewAdvancedSession(s.modelPath, inputNames, outputNames,
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		s.initErr = boterror.New(boterror.KindInference, "onnx-session-create-failed").With(err)
		return
	}

	s.session = session
	s.inputTensor = inputTensor
	s.outputTensor = outputTensor
}

// Segment decodes img to a fixed input tensor, runs the session, and
// post-processes the single-channel saliency map into a composited RGBA
// image plus a standalone greyscale mask, applying threshold/binary per
// Options the same way the original RemovalOptions did.
func (s *u2netSegmenter) Segment(img image.Image, opts Options) (Result, error) {
	if !s.Available() {
		return Result{}, boterror.New(boterror.KindInference, "model-unavailable").With(s.initErr)
	}

	input := toModelTensor(img, modelSize)

	s.runMu.Lock()
	defer s.runMu.Unlock()

	copy(s.inputTensor.GetData(), input)

	if err := s.session.Run(); err != nil {
		return Result{}, boterror.New(boterror.KindInference, "session-run-failed").With(err)
	}

	saliency := append([]float32(nil), s.outputTensor.GetData()...)
	return compose(img, saliency, modelSize, opts), nil
}

// toModelTensor resizes img to size×size and normalizes to CHW float32
// in [0,1], the input layout U²-Net expects.
func toModelTensor(img image.Image, size int) []float32 {
	rgba := squareCrop(img)
	rgba = codec.Resize(rgba, size, size)
	data := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := rgba.At(x, y).RGBA()
			idx := y*size + x
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}
	return data
}

// compose applies the saliency map as an alpha channel over the
// original-resolution image and builds the standalone mask image,
// honoring Threshold/Binary.
func compose(src image.Image, saliency []float32, modelSize int, opts Options) Result {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	composited := image.NewRGBA(image.Rect(0, 0, w, h))
	mask := image.NewRGBA(image.Rect(0, 0, w, h))

	threshold := uint8(opts.Threshold)

	for y := 0; y < h; y++ {
		sy := y * modelSize / h
		for x := 0; x < w; x++ {
			sx := x * modelSize / w
			alpha := saliency[sy*modelSize+sx]
			a := uint8(clamp01(alpha) * 255)
			if opts.Binary {
				if a >= threshold {
					a = 255
				} else {
					a = 0
				}
			}

			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			composited.SetRGBA(x, y, color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: a})
			mask.SetRGBA(x, y, color.RGBA{R: a, G: a, B: a, A: 255})
		}
	}

	return Result{Composited: composited, Mask: mask}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// squareCrop center-crops img to its largest enclosed square, the same
// crop step the icon pool applies before its own resize, reused here
// since the model expects a fixed square input.
func squareCrop(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	edge := w
	if h < edge {
		edge = h
	}
	x0 := b.Min.X + (w-edge)/2
	y0 := b.Min.Y + (h-edge)/2

	cropped := image.NewRGBA(image.Rect(0, 0, edge, edge))
	for y := 0; y < edge; y++ {
		for x := 0; x < edge; x++ {
			cropped.Set(x, y, img.At(x0+x, y0+y))
		}
	}
	return cropped
}
