package export_packager

import "image"

type Packager interface {
	PackageZip(label string, input image.Image, outputs []image.Image) ([]byte, error)
	PackageInlineLink(img image.Image) ([]byte, error)
}
