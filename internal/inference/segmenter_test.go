package inference

import (
	"image"
	"image/color"
	"testing"
)

func TestSegmenter_UnavailableWhenModelMissing(t *testing.T) {
	t.Parallel()
	s := New("/nonexistent/path/to/u2net.onnx")
	if s.Available() {
		t.Fatal("expected Available() to be false for a missing model file")
	}
}

func TestSegmenter_SegmentFailsWhenUnavailable(t *testing.T) {
	t.Parallel()
	s := New("/nonexistent/path/to/u2net.onnx")
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	_, err := s.Segment(img, Options{Threshold: 160})
	if err == nil {
		t.Fatal("expected an error when the model is unavailable")
	}
}

func TestSquareCrop_CentersOnLargestSquare(t *testing.T) {
	t.Parallel()
	src := image.NewRGBA(image.Rect(0, 0, 100, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 100; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(x % 256), A: 255})
		}
	}
	out := squareCrop(src)
	if out.Bounds().Dx() != 40 || out.Bounds().Dy() != 40 {
		t.Fatalf("bounds = %v, want 40x40", out.Bounds())
	}
}

func TestClamp01(t *testing.T) {
	t.Parallel()
	cases := map[float32]float32{-1: 0, 0: 0, 0.5: 0.5, 1: 1, 2: 1}
	for in, want := range cases {
		if got := clamp01(in); got != want {
			t.Errorf("clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}
