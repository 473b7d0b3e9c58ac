package composite_renderer

import (
	"bytes"
	"image"
	"image/color"

	"kidcanvas/entities"
)

type Renderer interface {
	Compose(drawing entities.CanvasFrame, background image.Image, fill color.Color, includeBackground bool) (*image.NRGBA, error)
	TileImages(images []image.Image, columns int) (*bytes.Buffer, error)
}
