package entities

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanvasFrame(t *testing.T) {
	_, err := NewCanvasFrame(2, 2, make([]byte, 15))
	assert.ErrorIs(t, err, ErrInvalidCanvasFrame)

	_, err = NewCanvasFrame(0, 2, nil)
	assert.ErrorIs(t, err, ErrInvalidCanvasFrame)

	pix := []byte{255, 0, 0, 128, 0, 0, 0, 0}
	frame, err := NewCanvasFrame(2, 1, pix)
	require.NoError(t, err)

	img, err := frame.Image()
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 128}, img.NRGBAAt(0, 0))

	img.Pix[0] = 1
	assert.Equal(t, byte(255), frame.Pix[0], "frame must not share pixels with derived images")
}

func TestCanvasFrame_OversizedDimensions(t *testing.T) {
	_, err := NewCanvasFrame(1<<62+1, 1, make([]byte, 4))
	assert.ErrorIs(t, err, ErrInvalidCanvasFrame)

	_, err = NewCanvasFrame(1, MaxCanvasDimension+1, make([]byte, 4*(MaxCanvasDimension+1)))
	assert.ErrorIs(t, err, ErrInvalidCanvasFrame)

	img, err := CanvasFrame{Width: 1<<62 + 1, Height: 1, Pix: make([]byte, 4)}.Image()
	assert.ErrorIs(t, err, ErrInvalidCanvasFrame)
	assert.Nil(t, img)
}

func TestCanvasFrame_ValidateSize(t *testing.T) {
	frame := EmptyCanvasFrame(6, 4)
	require.NoError(t, frame.ValidateSize(6, 4))

	assert.ErrorIs(t, EmptyCanvasFrame(3, 2).ValidateSize(6, 4), ErrInvalidCanvasFrame)
	assert.ErrorIs(t, CanvasFrame{Width: 6, Height: 4}.ValidateSize(6, 4), ErrInvalidCanvasFrame)
}

func TestCanvasFrameFromImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 10, 13, 12))
	src.SetNRGBA(10, 10, color.NRGBA{R: 9, G: 8, B: 7, A: 6})

	frame := CanvasFrameFromImage(src)
	assert.Equal(t, 3, frame.Width)
	assert.Equal(t, 2, frame.Height)
	assert.Equal(t, []byte{9, 8, 7, 6}, frame.Pix[:4])
}

func TestParseStyleFragments(t *testing.T) {
	assert.Equal(t, []string{"realistic", "cartoon"}, ParseStyleFragments(" realistic ;cartoon; ;"))
	assert.Equal(t, []string{""}, ParseStyleFragments(""))
	assert.Len(t, NewGenerationSettings("x").StyleFragments(), 3)
}

func TestGenerationRequest_Variants(t *testing.T) {
	req := GenerationRequest{
		BasePrompt:     "a cat",
		StyleFragments: []string{"realistic", "cartoon", ""},
		NegativePrompt: "ugly",
	}

	variants, err := req.Variants()
	require.NoError(t, err)
	assert.Equal(t, []Variant{
		{Prompt: "a cat, realistic", NegativePrompt: "ugly"},
		{Prompt: "a cat, cartoon", NegativePrompt: "ugly"},
		{Prompt: "a cat", NegativePrompt: "ugly"},
	}, variants)

	req.NegativePrompts = []string{"a", "b"}
	_, err = req.Variants()
	assert.ErrorIs(t, err, ErrFragmentCountMismatch)

	req.NegativePrompts = []string{"a", "b", "c"}
	variants, err = req.Variants()
	require.NoError(t, err)
	assert.Equal(t, "c", variants[2].NegativePrompt)
}

func TestGenerationSettings_Validate(t *testing.T) {
	settings := NewGenerationSettings("owner")
	require.NoError(t, settings.Validate())

	settings.Steps = 0
	assert.ErrorIs(t, settings.Validate(), ErrInvalidSettings)

	settings = NewGenerationSettings("owner")
	settings.Strength = 1.2
	assert.ErrorIs(t, settings.Validate(), ErrInvalidSettings)

	settings = NewGenerationSettings("owner")
	settings.GuidanceScale = 0.5
	assert.ErrorIs(t, settings.Validate(), ErrInvalidSettings)

	req := NewGenerationSettings("owner").Request("a dog")
	assert.Equal(t, "a dog", req.BasePrompt)
	assert.Equal(t, int64(DefaultSeed), req.Seed)
}
