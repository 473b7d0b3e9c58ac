package generation_invoker

import (
	"context"
	"image"

	"kidcanvas/entities"
)

// Invoker turns an init image into one output per style fragment of the
// request, in fragment order. It returns either the full set or an error.
type Invoker interface {
	Generate(ctx context.Context, req entities.GenerationRequest, init image.Image) ([]entities.GeneratedImage, error)
}
