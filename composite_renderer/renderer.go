package composite_renderer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"

	"kidcanvas/entities"
)

var ErrDimensionMismatch = errors.New("drawing and background dimensions differ")

type rendererImpl struct {
	encoder png.Encoder
}

type Config struct {
	CompressionLevel png.CompressionLevel
}

func New(cfg Config) (Renderer, error) {
	return &rendererImpl{encoder: png.Encoder{CompressionLevel: cfg.CompressionLevel}}, nil
}

// Compose flattens the drawing onto the canvas. When includeBackground is set and
// a background is given, the drawing is blended over it first; the result is then
// always blended over an opaque fill so every output pixel is opaque.
func (r *rendererImpl) Compose(drawing entities.CanvasFrame, background image.Image, fill color.Color, includeBackground bool) (*image.NRGBA, error) {
	layer, err := drawing.Image()
	if err != nil {
		return nil, err
	}

	if background != nil && includeBackground {
		if background.Bounds().Size() != layer.Bounds().Size() {
			return nil, fmt.Errorf("%w: drawing %v, background %v",
				ErrDimensionMismatch, layer.Bounds().Size(), background.Bounds().Size())
		}

		layer = imaging.Overlay(background, layer, image.Pt(0, 0), 1.0)
	}

	opaqueFill := color.NRGBAModel.Convert(fill).(color.NRGBA)
	opaqueFill.A = 0xff

	canvas := imaging.New(drawing.Width, drawing.Height, opaqueFill)

	return imaging.Overlay(canvas, layer, image.Pt(0, 0), 1.0), nil
}

// TileImages lays equally sized images out in a grid with the given number of
// columns and returns it PNG encoded.
func (r *rendererImpl) TileImages(images []image.Image, columns int) (*bytes.Buffer, error) {
	if len(images) == 0 {
		return nil, errors.New("invalid number of images")
	}

	if columns <= 0 {
		return nil, errors.New("invalid number of columns")
	}

	if columns > len(images) {
		columns = len(images)
	}

	firstSize := images[0].Bounds().Size()

	for _, img := range images {
		if img.Bounds().Size() != firstSize {
			return nil, errors.New("images are not the same size")
		}
	}

	rows := (len(images) + columns - 1) / columns

	retImage := imaging.New(firstSize.X*columns, firstSize.Y*rows, color.NRGBA{})

	for idx, img := range images {
		position := image.Pt((idx%columns)*firstSize.X, (idx/columns)*firstSize.Y)
		retImage = imaging.Paste(retImage, img, position)
	}

	imageBuf := new(bytes.Buffer)

	err := r.encoder.Encode(imageBuf, retImage)
	if err != nil {
		return nil, err
	}

	return imageBuf, nil
}
