// Package codec implements the raster codecs the processors need: a BLP
// (Blizzard-style mipmapped texture) codec, a thin PNG wrapper, and a
// stored-compression ZIP archive builder.
package codec

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/warraft/raftbot/internal/boterror"
)

// blpMagic identifies this module's BLP container. It is not
// byte-compatible with Blizzard's original BLP1/BLP2 formats; this is a
// from-scratch mipmapped-JPEG container shaped the same way (width,
// height, a mip table, one JPEG stream per level) since no BLP codec
// exists anywhere in the reference pack to adapt.
var blpMagic = [4]byte{'R', 'B', 'L', 'P'}

const maxMipLevels = 16

// mipEntry is one table-of-contents slot: byte offset and length of a
// single mip level's JPEG stream within the file.
type mipEntry struct {
	Offset uint32
	Length uint32
}

// EncodeBLP builds all mip levels for img (successive half-size
// downsamples down to 1x1, capped at maxMipLevels) and JPEG-encodes each
// at the given quality (1..100), producing a full mip chain at the
// requested JPEG quality.
func EncodeBLP(img image.Image, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, boterror.New(boterror.KindCodec, "blp-encode-empty-image")
	}

	mips := buildMipChain(img)

	var payload bytes.Buffer
	entries := make([]mipEntry, 0, len(mips))
	for _, mip := range mips {
		var jpegBuf bytes.Buffer
		if err := jpeg.Encode(&jpegBuf, mip, &jpeg.Options{Quality: quality}); err != nil {
			return nil, boterror.New(boterror.KindCodec, "blp-mip-jpeg-encode-failed").With(err)
		}
		entries = append(entries, mipEntry{Offset: uint32(payload.Len()), Length: uint32(jpegBuf.Len())})
		payload.Write(jpegBuf.Bytes())
	}

	var out bytes.Buffer
	out.Write(blpMagic[:])
	_ = binary.Write(&out, binary.LittleEndian, uint32(width))
	_ = binary.Write(&out, binary.LittleEndian, uint32(height))
	_ = binary.Write(&out, binary.LittleEndian, uint32(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&out, binary.LittleEndian, e.Offset)
		_ = binary.Write(&out, binary.LittleEndian, e.Length)
	}
	out.Write(payload.Bytes())

	return out.Bytes(), nil
}

// DecodeBLP parses a container produced by EncodeBLP and returns the
// image decoded from its first (full-resolution) mip level; lower mips
// are discarded since PNG output only needs the full-resolution image.
func DecodeBLP(data []byte) (image.Image, error) {
	if len(data) < 16 || !bytes.Equal(data[:4], blpMagic[:]) {
		return nil, boterror.New(boterror.KindCodec, "blp-bad-magic")
	}

	mipCount := binary.LittleEndian.Uint32(data[12:16])
	if mipCount == 0 || mipCount > maxMipLevels {
		return nil, boterror.New(boterror.KindCodec, "blp-invalid-mip-count").Withf("count=%d", mipCount)
	}

	tableStart := 16
	tableLen := int(mipCount) * 8
	if len(data) < tableStart+tableLen {
		return nil, boterror.New(boterror.KindCodec, "blp-truncated-table")
	}

	firstOffset := binary.LittleEndian.Uint32(data[tableStart : tableStart+4])
	firstLength := binary.LittleEndian.Uint32(data[tableStart+4 : tableStart+8])

	payloadStart := tableStart + tableLen
	start := payloadStart + int(firstOffset)
	end := start + int(firstLength)
	if start < 0 || end > len(data) || start > end {
		return nil, boterror.New(boterror.KindCodec, "blp-mip-out-of-range")
	}

	img, err := jpeg.Decode(bytes.NewReader(data[start:end]))
	if err != nil {
		return nil, boterror.New(boterror.KindCodec, "blp-mip-jpeg-decode-failed").With(err)
	}
	return img, nil
}

// buildMipChain produces successive half-size downsamples of img, from
// full resolution down to a single 1x1 pixel, capped at maxMipLevels.
func buildMipChain(img image.Image) []image.Image {
	levels := make([]image.Image, 0, maxMipLevels)

	base := toRGBA(img)
	levels = append(levels, base)

	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	for len(levels) < maxMipLevels && (w > 1 || h > 1) {
		w = maxInt(1, w/2)
		h = maxInt(1, h/2)
		levels = append(levels, boxDownsample(levels[len(levels)-1], w, h))
	}
	return levels
}

// Resize rescales src to exactly w×h using the same box-averaging kernel
// as the BLP mip chain. Exported for the icon processor's 64×64 resize
// step.
func Resize(src image.Image, w, h int) *image.RGBA {
	return boxDownsample(src, w, h)
}

// boxDownsample resizes src to exactly w×h by averaging each destination
// pixel's corresponding source box. No external resize library exists in
// the reference pack, so this is implemented directly against the
// standard library's image types.
func boxDownsample(src image.Image, w, h int) *image.RGBA {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	for dy := 0; dy < h; dy++ {
		sy0 := dy * sh / h
		sy1 := maxInt(sy0+1, (dy+1)*sh/h)
		for dx := 0; dx < w; dx++ {
			sx0 := dx * sw / w
			sx1 := maxInt(sx0+1, (dx+1)*sw/w)

			var r, g, b, a, n uint32
			for sy := sy0; sy < sy1; sy++ {
				for sx := sx0; sx < sx1; sx++ {
					pr, pg, pb, pa := src.At(sb.Min.X+sx, sb.Min.Y+sy).RGBA()
					r += pr
					g += pg
					b += pb
					a += pa
					n++
				}
			}
			if n == 0 {
				n = 1
			}
			dst.SetRGBA(dx, dy, rgbaAverage(r, g, b, a, n))
		}
	}
	return dst
}

func rgbaAverage(r, g, b, a, n uint32) color.RGBA {
	return color.RGBA{
		R: uint8((r / n) >> 8),
		G: uint8((g / n) >> 8),
		B: uint8((b / n) >> 8),
		A: uint8((a / n) >> 8),
	}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
