package processor

import (
	"context"
	"image"
	"path/filepath"
	"strings"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/codec"
	"github.com/warraft/raftbot/internal/core"
)

// BLPTransform implements the BLP pool: encode to the custom BLP
// container at the job's quality when Target is "BLP", or decode the
// first mip and re-encode as PNG when Target is "PNG".
type BLPTransform struct{}

// PoolName satisfies Transform.
func (BLPTransform) PoolName() string { return "blp" }

// Run dispatches on BLPParams.Target.
func (BLPTransform) Run(_ context.Context, job *core.Job, filename string, data []byte) ([]core.Product, error) {
	if job.BLP == nil {
		return nil, boterror.New(boterror.KindParse, "blp-job-missing-params")
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	var img image.Image
	rgba, err := codec.DecodeToRGBA(data)
	if err != nil {
		decoded, derr := codec.DecodeBLP(data)
		if derr != nil {
			return nil, boterror.New(boterror.KindCodec, "blp-source-decode-failed").With(err).With(derr)
		}
		img = decoded
	} else {
		img = rgba
	}

	switch job.BLP.Target {
	case "PNG":
		out, err := codec.EncodePNG(img)
		if err != nil {
			return nil, boterror.New(boterror.KindCodec, "blp-to-png-encode-failed").With(err)
		}
		return []core.Product{{Filename: stem + ".png", Bytes: out}}, nil
	default:
		out, err := codec.EncodeBLP(img, job.BLP.Quality)
		if err != nil {
			return nil, boterror.New(boterror.KindCodec, "blp-encode-failed").With(err)
		}
		return []core.Product{{Filename: stem + ".blp", Bytes: out}}, nil
	}
}
