package processor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/codec"
	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/inference"
)

// RembgTransform implements the REMBG pool: decode to RGBA, run the
// segmentation model, and PNG-encode the composited foreground plus an
// optional standalone mask.
type RembgTransform struct {
	Segmenter inference.Segmenter
}

// PoolName satisfies Transform.
func (RembgTransform) PoolName() string { return "rembg" }

// Run decodes the attachment, removes its background, and emits
// `<stem>_no_bg.png` always and `<stem>_mask.png` when requested.
func (t RembgTransform) Run(_ context.Context, job *core.Job, filename string, data []byte) ([]core.Product, error) {
	if job.Rembg == nil {
		return nil, boterror.New(boterror.KindParse, "rembg-job-missing-params")
	}

	img, err := codec.DecodeToRGBA(data)
	if err != nil {
		return nil, boterror.New(boterror.KindCodec, "rembg-source-decode-failed").With(err)
	}

	result, err := t.Segmenter.Segment(img, inference.Options{
		Threshold: job.Rembg.Threshold,
		Binary:    job.Rembg.Binary,
	})
	if err != nil {
		return nil, boterror.New(boterror.KindInference, "rembg-segment-failed").With(err)
	}

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	composite, err := codec.EncodePNG(result.Composited)
	if err != nil {
		return nil, boterror.New(boterror.KindCodec, "rembg-composite-encode-failed").With(err)
	}
	products := []core.Product{{Filename: stem + "_no_bg.png", Bytes: composite}}

	if job.Rembg.Mask {
		mask, err := codec.EncodePNG(result.Mask)
		if err != nil {
			return nil, boterror.New(boterror.KindCodec, "rembg-mask-encode-failed").With(err)
		}
		products = append(products, core.Product{Filename: stem + "_mask.png", Bytes: mask})
	}

	return products, nil
}
