package processor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"strings"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/codec"
	"github.com/warraft/raftbot/internal/core"
)

const iconSize = 64

// iconVariant is one of the six button-frame overlays the icon pool
// stamps onto every uploaded image, and the archive directory Warcraft
// III expects it under.
type iconVariant struct {
	prefix string
	dir    string
}

var iconVariants = []iconVariant{
	{prefix: "BTN", dir: `ReplaceableTextures\CommandButtons\`},
	{prefix: "DISBTN", dir: `ReplaceableTextures\CommandButtonsDisabled\`},
	{prefix: "ATC", dir: `ReplaceableTextures\CommandButtons\`},
	{prefix: "DISATC", dir: `ReplaceableTextures\CommandButtonsDisabled\`},
	{prefix: "PAS", dir: `ReplaceableTextures\CommandButtons\`},
	{prefix: "DISPAS", dir: `ReplaceableTextures\CommandButtonsDisabled\`},
}

// overlayColors assigns each variant a distinct frame ring color. No
// baked WC3 button-frame artwork exists in the reference pack, so the
// overlays are generated procedurally: a colored ring matching the
// variant's role (gold active, grey disabled, red attack, blue passive)
// instead of the original's bundled texture files.
var overlayColors = map[string]color.RGBA{
	"BTN":    {R: 0xd9, G: 0xa6, B: 0x2a, A: 0xff},
	"DISBTN": {R: 0x66, G: 0x66, B: 0x66, A: 0xff},
	"ATC":    {R: 0xb0, G: 0x20, B: 0x20, A: 0xff},
	"DISATC": {R: 0x5c, G: 0x1c, B: 0x1c, A: 0xff},
	"PAS":    {R: 0x2a, G: 0x5c, B: 0xd9, A: 0xff},
	"DISPAS": {R: 0x22, G: 0x33, B: 0x5c, A: 0xff},
}

// IconTransform implements the ICON pool: center-crop to square, resize
// to 64x64, stamp all six button-frame variants, BLP-encode each at
// quality 95 with every mip level, and return all six as products. The
// preview collage is built separately by BuildCollage.
type IconTransform struct{}

// PoolName satisfies Transform.
func (IconTransform) PoolName() string { return "icon" }

// Run produces the six archive-bound BLP variants for one attachment.
// BuildCollage, which the pipeline calls after every Run, re-derives the
// same composited images for the preview collage, since Transform.Run
// only returns products destined for the job's output archive.
func (IconTransform) Run(_ context.Context, _ *core.Job, filename string, data []byte) ([]core.Product, error) {
	img, err := codec.DecodeToRGBA(data)
	if err != nil {
		return nil, boterror.New(boterror.KindCodec, "icon-source-decode-failed").With(err)
	}

	cropped := centerCropSquare(img)
	resized := codec.Resize(cropped, iconSize, iconSize)

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	products := make([]core.Product, 0, len(iconVariants))
	for _, v := range iconVariants {
		composited := overlayVariant(resized, v.prefix)

		blpBytes, err := codec.EncodeBLP(composited, 95)
		if err != nil {
			return nil, boterror.New(boterror.KindCodec, "icon-blp-encode-failed").Withf("variant=%s", v.prefix).With(err)
		}

		archivePath := fmt.Sprintf("%s%s%s.blp", v.dir, v.prefix, stem)
		products = append(products, core.Product{Filename: archivePath, Bytes: blpBytes})
	}
	return products, nil
}

// collageFrames renders the same six composited variants Run would embed
// in the archive, for BuildCollage to assemble into the preview grid.
func collageFrames(data []byte) ([]*image.RGBA, error) {
	img, err := codec.DecodeToRGBA(data)
	if err != nil {
		return nil, boterror.New(boterror.KindCodec, "icon-collage-source-decode-failed").With(err)
	}
	cropped := centerCropSquare(img)
	resized := codec.Resize(cropped, iconSize, iconSize)

	frames := make([]*image.RGBA, 0, len(iconVariants))
	for _, v := range iconVariants {
		frames = append(frames, overlayVariant(resized, v.prefix))
	}
	return frames, nil
}

// BuildCollage satisfies processor.CollageBuilder: it re-derives the six
// composited variants for every successfully downloaded attachment and
// arranges them into an N-column by 6-row grid, matching the original's
// create_processed_icon_collage layout (one column per source image, one
// row per variant, 4px padding between cells). Attachments that fail to
// decode are skipped rather than aborting the whole collage.
func (IconTransform) BuildCollage(downloads []AttachmentBytes) (core.Product, error) {
	const padding = 4

	var perImage [][]*image.RGBA
	for _, d := range downloads {
		frames, err := collageFrames(d.Data)
		if err != nil {
			continue
		}
		perImage = append(perImage, frames)
	}

	numImages := len(perImage)
	if numImages == 0 {
		blank := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
		data, err := codec.EncodePNG(blank)
		if err != nil {
			return core.Product{}, boterror.New(boterror.KindCodec, "icon-collage-encode-failed").With(err)
		}
		return core.Product{Filename: "icon_collage.png", Bytes: data}, nil
	}

	width := numImages*(iconSize+padding) - padding
	height := len(iconVariants)*(iconSize+padding) - padding
	collage := image.NewRGBA(image.Rect(0, 0, width, height))

	for col, frames := range perImage {
		for row, frame := range frames {
			x := col * (iconSize + padding)
			y := row * (iconSize + padding)
			dstRect := image.Rect(x, y, x+iconSize, y+iconSize)
			draw.Draw(collage, dstRect, frame, image.Point{}, draw.Over)
		}
	}

	data, err := codec.EncodePNG(collage)
	if err != nil {
		return core.Product{}, boterror.New(boterror.KindCodec, "icon-collage-encode-failed").With(err)
	}
	return core.Product{Filename: "icon_collage.png", Bytes: data}, nil
}

// centerCropSquare crops img to its largest enclosed square.
func centerCropSquare(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	edge := w
	if h < edge {
		edge = h
	}
	x0 := b.Min.X + (w-edge)/2
	y0 := b.Min.Y + (h-edge)/2

	cropped := image.NewRGBA(image.Rect(0, 0, edge, edge))
	draw.Draw(cropped, cropped.Bounds(), img, image.Point{X: x0, Y: y0}, draw.Src)
	return cropped
}

// overlayVariant draws the variant's frame ring over a copy of base.
func overlayVariant(base *image.RGBA, prefix string) *image.RGBA {
	out := image.NewRGBA(base.Bounds())
	draw.Draw(out, out.Bounds(), base, base.Bounds().Min, draw.Src)

	ringColor := overlayColors[prefix]
	const ringWidth = 4
	b := out.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			onRing := x < b.Min.X+ringWidth || x >= b.Max.X-ringWidth ||
				y < b.Min.Y+ringWidth || y >= b.Max.Y-ringWidth
			if onRing {
				out.SetRGBA(x, y, ringColor)
			}
		}
	}
	return out
}
