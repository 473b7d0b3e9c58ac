package stable_diffusion_api

import "context"

type StableDiffusionAPI interface {
	ImageToImage(ctx context.Context, req *ImageToImageRequest) (*ImageToImageResponse, error)
	GetCurrentProgress(ctx context.Context) (*ProgressResponse, error)
	ListModels(ctx context.Context) ([]Model, error)
}
