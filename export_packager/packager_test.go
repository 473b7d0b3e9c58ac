package export_packager

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"io"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPackager(t *testing.T) Packager {
	t.Helper()

	packager, err := New(Config{})
	require.NoError(t, err)

	return packager
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		assert.Equal(t, zip.Deflate, f.Method, f.Name)

		rc, err := f.Open()
		require.NoError(t, err)

		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		entries[f.Name] = body
	}

	return entries
}

func TestPackageZip_RoundTrip(t *testing.T) {
	packager := newPackager(t)

	input := imaging.New(6, 4, color.NRGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff})
	outputs := []image.Image{
		imaging.New(6, 4, color.NRGBA{R: 255, A: 255}),
		imaging.New(6, 4, color.NRGBA{G: 255, A: 255}),
	}

	data, err := packager.PackageZip("a cat", input, outputs)
	require.NoError(t, err)

	entries := readZip(t, data)
	require.Len(t, entries, 3)

	wantInput, err := packager.PackageInlineLink(input)
	require.NoError(t, err)
	assert.Equal(t, wantInput, entries["KidCanvas_a cat/input_image_a cat.png"])

	for i, output := range outputs {
		want, err := packager.PackageInlineLink(output)
		require.NoError(t, err)

		name := "KidCanvas_a cat/output_image_a cat_" + string(rune('1'+i)) + ".png"
		assert.Equal(t, want, entries[name], name)
	}
}

func TestPackageZip_IsDeterministic(t *testing.T) {
	packager := newPackager(t)
	input := imaging.New(3, 3, color.NRGBA{B: 9, A: 255})

	first, err := packager.PackageZip("label", input, []image.Image{input})
	require.NoError(t, err)

	second, err := packager.PackageZip("label", input, []image.Image{input})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPackageZip_NoOutputs(t *testing.T) {
	data, err := newPackager(t).PackageZip("x", imaging.New(1, 1, color.Black), nil)
	require.NoError(t, err)
	assert.Len(t, readZip(t, data), 1)
}

func TestPackageZip_UnsafeLabelStaysInsideBundle(t *testing.T) {
	data, err := newPackager(t).PackageZip("../../etc/passwd", imaging.New(1, 1, color.Black), nil)
	require.NoError(t, err)

	for name := range readZip(t, data) {
		assert.True(t, strings.HasPrefix(name, "KidCanvas_"), name)
		assert.NotContains(t, name, "..")
		assert.Equal(t, 1, strings.Count(name, "/"), name)
	}
}

func TestPackageZip_MissingImages(t *testing.T) {
	packager := newPackager(t)

	_, err := packager.PackageZip("x", nil, nil)
	assert.Error(t, err)

	_, err = packager.PackageZip("x", imaging.New(1, 1, color.Black), []image.Image{nil})
	assert.Error(t, err)
}

func TestPackageInlineLink_DecodesBack(t *testing.T) {
	img := imaging.New(5, 7, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	data, err := newPackager(t).PackageInlineLink(img)
	require.NoError(t, err)

	decoded, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
	assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 255}, color.NRGBAModel.Convert(decoded.At(2, 2)))
}

func TestSanitizeLabel(t *testing.T) {
	tests := map[string]string{
		"a cat":           "a cat",
		"  spaced  ":      "spaced",
		"":                "untitled",
		"   ":             "untitled",
		"a/b\\c":          "a_b_c",
		"..":              "_",
		"what?*":          "what__",
		"line\nbreak":     "line_break",
		"kucing lucu 🐱":   "kucing lucu 🐱",
		`<tag> "q" a:b|c`: `_tag_ _q_ a_b_c`,
	}

	for in, want := range tests {
		assert.Equal(t, want, SanitizeLabel(in), in)
	}
}

func TestDataURIAndFilename(t *testing.T) {
	uri := DataURI(MIMETypeZip, []byte("zip"))
	assert.Equal(t, "data:application/zip;base64,"+base64.StdEncoding.EncodeToString([]byte("zip")), uri)
	assert.Equal(t, "KidCanvas_a cat.zip", ZipFilename("a cat"))
}
