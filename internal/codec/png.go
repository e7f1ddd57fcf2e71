package codec

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/warraft/raftbot/internal/boterror"
)

// EncodePNG is a thin wrapper over the standard library's encoder, kept
// here so processors depend on one codec package for every raster format.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, boterror.New(boterror.KindCodec, "png-encode-failed").With(err)
	}
	return buf.Bytes(), nil
}

// DecodeToRGBA decodes any registered image format (png, jpeg, gif, ...)
// and normalizes the result to *image.RGBA for downstream transforms.
func DecodeToRGBA(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, boterror.New(boterror.KindCodec, "image-decode-failed").With(err)
	}
	return toRGBA(img), nil
}
