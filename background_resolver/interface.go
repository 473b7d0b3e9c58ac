package background_resolver

import (
	"context"
	"image"
)

type Resolver interface {
	Resolve(ctx context.Context, uploaded []byte, remoteURL string) (image.Image, error)
	Normalize(img image.Image) (image.Image, error)
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}
