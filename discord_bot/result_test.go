package discord_bot

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidcanvas/composite_renderer"
	"kidcanvas/entities"
	"kidcanvas/export_packager"
	"kidcanvas/pipeline"
)

func newResultBot(t *testing.T) *botImpl {
	t.Helper()

	renderer, err := composite_renderer.New(composite_renderer.Config{})
	require.NoError(t, err)

	return &botImpl{renderer: renderer, logger: zerolog.Nop()}
}

func TestResultFiles(t *testing.T) {
	bot := newResultBot(t)

	result := &pipeline.Result{
		Outputs: []entities.GeneratedImage{
			{Image: imaging.New(4, 4, color.White)},
			{Image: imaging.New(4, 4, color.Black)},
		},
		Zip:         []byte("zip"),
		ZipFilename: "KidCanvas_cat.zip",
	}

	files := bot.resultFiles(result)
	require.Len(t, files, 2)
	assert.Equal(t, export_packager.MIMETypePNG, files[0].ContentType)
	assert.Equal(t, "KidCanvas_cat.zip", files[1].Name)
}

func TestResultFiles_ZipWithoutPreview(t *testing.T) {
	bot := newResultBot(t)

	files := bot.resultFiles(&pipeline.Result{Zip: []byte("zip"), ZipFilename: "KidCanvas_cat.zip"})
	require.Len(t, files, 1)
	assert.Equal(t, export_packager.MIMETypeZip, files[0].ContentType)
	assert.Equal(t, "KidCanvas_cat.zip", files[0].Name)
}

func TestFitDrawing(t *testing.T) {
	small := imaging.New(30, 20, color.White)

	fitted := fitDrawing(small, 800, 500)
	assert.Equal(t, image.Rect(0, 0, 800, 500), fitted.Bounds())

	same := imaging.New(800, 500, color.White)
	assert.Same(t, same, fitDrawing(same, 800, 500))
}
