// Package canvas_config turns the drawing-tool choices a user makes into the
// settings a browser canvas widget expects.
package canvas_config

import (
	"errors"
	"fmt"

	"kidcanvas/color_codec"
	"kidcanvas/entities"
)

const (
	MinBrushSize = 1
	MaxBrushSize = 25

	DefaultDrawingMode     = "freedraw"
	DefaultBrushSize       = 2
	DefaultPointRadius     = 10
	DefaultStrokeColor     = "#000000"
	DefaultFillColor       = "#7D7DFF"
	DefaultBackgroundColor = "#eee"
)

var (
	ErrUnknownDrawingMode = errors.New("unknown drawing mode")
	ErrOutOfRange         = errors.New("value out of range")
)

var drawingModes = []string{"freedraw", "rectangle", "polygon", "circle", "line", "point", "move"}

// widgetModes holds the modes the canvas widget names differently.
var widgetModes = map[string]string{
	"rectangle": "rect",
	"move":      "transform",
}

// DrawingModes lists the modes a user can pick, in menu order.
func DrawingModes() []string {
	return append([]string(nil), drawingModes...)
}

// Options are the user's tool choices.
type Options struct {
	DrawingMode     string  `json:"drawing_mode"`
	BrushSize       int     `json:"brush_size"`
	PointRadius     int     `json:"point_radius"`
	StrokeColor     string  `json:"stroke_color"`
	StrokeOpacity   float64 `json:"stroke_opacity"`
	FillColor       string  `json:"fill_color"`
	FillOpacity     float64 `json:"fill_opacity"`
	BackgroundColor string  `json:"background_color"`
}

func DefaultOptions() Options {
	return Options{
		DrawingMode:     DefaultDrawingMode,
		BrushSize:       DefaultBrushSize,
		PointRadius:     DefaultPointRadius,
		StrokeColor:     DefaultStrokeColor,
		StrokeOpacity:   1,
		FillColor:       DefaultFillColor,
		FillOpacity:     1,
		BackgroundColor: DefaultBackgroundColor,
	}
}

// CanvasConfig is what the canvas widget is configured with.
type CanvasConfig struct {
	DrawingMode        string `json:"drawing_mode"`
	StrokeWidth        int    `json:"stroke_width"`
	PointDisplayRadius int    `json:"point_display_radius"`
	StrokeColor        string `json:"stroke_color"`
	FillColor          string `json:"fill_color"`
	BackgroundColor    string `json:"background_color"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
}

func Build(opts Options) (*CanvasConfig, error) {
	if !isDrawingMode(opts.DrawingMode) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDrawingMode, opts.DrawingMode)
	}

	if err := checkRange("brush size", opts.BrushSize); err != nil {
		return nil, err
	}

	if err := checkRange("point radius", opts.PointRadius); err != nil {
		return nil, err
	}

	stroke, err := color_codec.ToRGBA(opts.StrokeColor, opts.StrokeOpacity)
	if err != nil {
		return nil, fmt.Errorf("stroke color: %w", err)
	}

	fill, err := color_codec.ToRGBA(opts.FillColor, opts.FillOpacity)
	if err != nil {
		return nil, fmt.Errorf("fill color: %w", err)
	}

	if _, err = color_codec.Parse(opts.BackgroundColor, 1); err != nil {
		return nil, fmt.Errorf("background color: %w", err)
	}

	mode := opts.DrawingMode
	if mapped, ok := widgetModes[mode]; ok {
		mode = mapped
	}

	pointRadius := 0
	if opts.DrawingMode == "point" {
		pointRadius = opts.PointRadius
	}

	return &CanvasConfig{
		DrawingMode:        mode,
		StrokeWidth:        opts.BrushSize,
		PointDisplayRadius: pointRadius,
		StrokeColor:        stroke,
		FillColor:          fill,
		BackgroundColor:    opts.BackgroundColor,
		Width:              entities.DefaultCanvasWidth,
		Height:             entities.DefaultCanvasHeight,
	}, nil
}

func isDrawingMode(mode string) bool {
	for _, m := range drawingModes {
		if m == mode {
			return true
		}
	}

	return false
}

func checkRange(name string, v int) error {
	if v < MinBrushSize || v > MaxBrushSize {
		return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrOutOfRange, name, MinBrushSize, MaxBrushSize, v)
	}

	return nil
}
