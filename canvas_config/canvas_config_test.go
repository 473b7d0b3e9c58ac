package canvas_config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidcanvas/color_codec"
)

func TestBuild_Defaults(t *testing.T) {
	cfg, err := Build(DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, &CanvasConfig{
		DrawingMode:        "freedraw",
		StrokeWidth:        2,
		PointDisplayRadius: 0,
		StrokeColor:        "rgba(0, 0, 0, 1)",
		FillColor:          "rgba(125, 125, 255, 1)",
		BackgroundColor:    "#eee",
		Width:              600,
		Height:             400,
	}, cfg)
}

func TestBuild_ModeMapping(t *testing.T) {
	tests := map[string]string{
		"freedraw":  "freedraw",
		"rectangle": "rect",
		"polygon":   "polygon",
		"circle":    "circle",
		"line":      "line",
		"point":     "point",
		"move":      "transform",
	}

	for mode, want := range tests {
		opts := DefaultOptions()
		opts.DrawingMode = mode

		cfg, err := Build(opts)
		require.NoError(t, err, mode)
		assert.Equal(t, want, cfg.DrawingMode, mode)
	}

	assert.Len(t, DrawingModes(), len(tests))
}

func TestBuild_PointRadiusOnlyInPointMode(t *testing.T) {
	opts := DefaultOptions()
	opts.PointRadius = 7

	cfg, err := Build(opts)
	require.NoError(t, err)
	assert.Zero(t, cfg.PointDisplayRadius)

	opts.DrawingMode = "point"

	cfg, err = Build(opts)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.PointDisplayRadius)
}

func TestBuild_Opacity(t *testing.T) {
	opts := DefaultOptions()
	opts.StrokeColor = "#ff8000"
	opts.StrokeOpacity = 0.5

	cfg, err := Build(opts)
	require.NoError(t, err)
	assert.Equal(t, "rgba(255, 128, 0, 0.5)", cfg.StrokeColor)
}

func TestBuild_Errors(t *testing.T) {
	opts := DefaultOptions()
	opts.DrawingMode = "spray"
	_, err := Build(opts)
	assert.ErrorIs(t, err, ErrUnknownDrawingMode)

	for _, size := range []int{0, 26, -1} {
		opts = DefaultOptions()
		opts.BrushSize = size
		_, err = Build(opts)
		assert.ErrorIs(t, err, ErrOutOfRange, size)

		opts = DefaultOptions()
		opts.PointRadius = size
		_, err = Build(opts)
		assert.ErrorIs(t, err, ErrOutOfRange, size)
	}

	opts = DefaultOptions()
	opts.FillColor = "blue"
	_, err = Build(opts)
	assert.ErrorIs(t, err, color_codec.ErrInvalidColorFormat)

	opts = DefaultOptions()
	opts.BackgroundColor = "#12"
	_, err = Build(opts)
	assert.ErrorIs(t, err, color_codec.ErrInvalidColorFormat)
}
