package export_packager

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"
	"unicode"

	"github.com/disintegration/imaging"
)

const (
	bundlePrefix = "KidCanvas_"

	MIMETypePNG = "image/png"
	MIMETypeZip = "application/zip"
)

// entryTime is stamped on every archive entry so identical inputs give identical archives.
var entryTime = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

type packagerImpl struct {
	compression png.CompressionLevel
}

type Config struct {
	PNGCompression png.CompressionLevel
}

func New(cfg Config) (Packager, error) {
	return &packagerImpl{compression: cfg.PNGCompression}, nil
}

// PackageZip bundles the input and output images as PNG entries under a
// KidCanvas_<label>/ directory. Outputs are numbered from 1.
func (p *packagerImpl) PackageZip(label string, input image.Image, outputs []image.Image) ([]byte, error) {
	if input == nil {
		return nil, errors.New("missing input image")
	}

	label = SanitizeLabel(label)
	dir := bundlePrefix + label + "/"

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	if err := p.writeEntry(zw, dir+"input_image_"+label+".png", input); err != nil {
		return nil, err
	}

	for i, output := range outputs {
		if output == nil {
			return nil, fmt.Errorf("missing output image %d", i+1)
		}

		name := fmt.Sprintf("%soutput_image_%s_%d.png", dir, label, i+1)
		if err := p.writeEntry(zw, name, output); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// PackageInlineLink returns the PNG encoding of img for embedding in a data URI.
func (p *packagerImpl) PackageInlineLink(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("missing image")
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.PNG, imaging.PNGCompressionLevel(p.compression)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (p *packagerImpl) writeEntry(zw *zip.Writer, name string, img image.Image) error {
	data, err := p.PackageInlineLink(img)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: entryTime})
	if err != nil {
		return err
	}

	_, err = w.Write(data)

	return err
}

// SanitizeLabel makes a user prompt safe to use as a path segment. Separators,
// parent references, control characters and characters reserved on common file
// systems become underscores; an empty label becomes "untitled".
func SanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	label = strings.ReplaceAll(label, "..", "_")

	label = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`/\<>:"|?*`, r) {
			return '_'
		}

		return r
	}, label)

	if label == "" {
		return "untitled"
	}

	return label
}

// ZipFilename is the download name offered for a bundle.
func ZipFilename(label string) string {
	return bundlePrefix + SanitizeLabel(label) + ".zip"
}

// DataURI embeds data inline as a base64 data URI.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
