package entities

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

const (
	DefaultCanvasWidth  = 600
	DefaultCanvasHeight = 400
	// MaxCanvasDimension bounds either side of a frame.
	MaxCanvasDimension = 4096
)

var ErrInvalidCanvasFrame = errors.New("invalid canvas frame")

// CanvasFrame is the raw drawing surface at the moment of submission: width*height
// pixels of non-premultiplied 8-bit RGBA, row-major.
type CanvasFrame struct {
	Width  int
	Height int
	Pix    []byte
}

func NewCanvasFrame(width, height int, pix []byte) (CanvasFrame, error) {
	frame := CanvasFrame{Width: width, Height: height, Pix: pix}

	if err := frame.Validate(); err != nil {
		return CanvasFrame{}, err
	}

	return frame, nil
}

// EmptyCanvasFrame returns a fully transparent frame.
func EmptyCanvasFrame(width, height int) CanvasFrame {
	return CanvasFrame{Width: width, Height: height, Pix: make([]byte, width*height*4)}
}

// CanvasFrameFromImage copies img into a frame of the same size.
func CanvasFrameFromImage(img image.Image) CanvasFrame {
	bounds := img.Bounds()

	nrgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	// Copy NRGBA rows directly; going through draw would premultiply and lose
	// precision on translucent pixels.
	if src, ok := img.(*image.NRGBA); ok {
		rowLen := bounds.Dx() * 4
		for y := 0; y < bounds.Dy(); y++ {
			offset := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(nrgba.Pix[y*nrgba.Stride:y*nrgba.Stride+rowLen], src.Pix[offset:offset+rowLen])
		}
	} else {
		draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)
	}

	return CanvasFrame{Width: bounds.Dx(), Height: bounds.Dy(), Pix: nrgba.Pix}
}

func (f CanvasFrame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidCanvasFrame, f.Width, f.Height)
	}

	if f.Width > MaxCanvasDimension || f.Height > MaxCanvasDimension {
		return fmt.Errorf("%w: size %dx%d exceeds %d", ErrInvalidCanvasFrame, f.Width, f.Height, MaxCanvasDimension)
	}

	if len(f.Pix) != f.Width*f.Height*4 {
		return fmt.Errorf("%w: %d bytes for %dx%d RGBA", ErrInvalidCanvasFrame, len(f.Pix), f.Width, f.Height)
	}

	return nil
}

// ValidateSize checks the frame and that it is exactly width x height.
func (f CanvasFrame) ValidateSize(width, height int) error {
	if err := f.Validate(); err != nil {
		return err
	}

	if f.Width != width || f.Height != height {
		return fmt.Errorf("%w: size %dx%d, canvas is %dx%d", ErrInvalidCanvasFrame, f.Width, f.Height, width, height)
	}

	return nil
}

// Image returns a copy of the frame as an NRGBA image. The frame is left untouched.
func (f CanvasFrame) Image() (*image.NRGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	copy(img.Pix, f.Pix)

	return img, nil
}
