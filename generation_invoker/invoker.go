package generation_invoker

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"kidcanvas/entities"
	"kidcanvas/png_info_extractor"
	"kidcanvas/stable_diffusion_api"
)

var ErrBackendUnavailable = errors.New("image generation backend unavailable")

type sdInvoker struct {
	api         stable_diffusion_api.StableDiffusionAPI
	samplerName string
	logger      zerolog.Logger
}

type Config struct {
	StableDiffusionAPI stable_diffusion_api.StableDiffusionAPI
	SamplerName        string
	Logger             *zerolog.Logger
}

func New(cfg Config) (Invoker, error) {
	if cfg.StableDiffusionAPI == nil {
		return nil, errors.New("missing stable diffusion API")
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "generation_invoker").Logger()
	}

	return &sdInvoker{
		api:         cfg.StableDiffusionAPI,
		samplerName: cfg.SamplerName,
		logger:      logger,
	}, nil
}

// Probe checks that the backend answers and has at least one model loaded.
func Probe(ctx context.Context, api stable_diffusion_api.StableDiffusionAPI) error {
	models, err := api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if len(models) == 0 {
		return fmt.Errorf("%w: no models loaded", ErrBackendUnavailable)
	}

	return nil
}

func (i *sdInvoker) Generate(ctx context.Context, req entities.GenerationRequest, init image.Image) ([]entities.GeneratedImage, error) {
	if init == nil {
		return nil, errors.New("missing init image")
	}

	variants, err := req.Variants()
	if err != nil {
		return nil, err
	}

	encoded := new(bytes.Buffer)
	if err = imaging.Encode(encoded, init, imaging.PNG); err != nil {
		return nil, err
	}

	initImage := base64.StdEncoding.EncodeToString(encoded.Bytes())
	bounds := init.Bounds()

	outputs := make([]entities.GeneratedImage, 0, len(variants))

	for n, variant := range variants {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		i.logger.Info().
			Int("variant", n+1).
			Int("of", len(variants)).
			Str("prompt", variant.Prompt).
			Msg("generating")

		resp, err := i.api.ImageToImage(ctx, &stable_diffusion_api.ImageToImageRequest{
			InitImages:        []string{initImage},
			Prompt:            variant.Prompt,
			NegativePrompt:    variant.NegativePrompt,
			Width:             bounds.Dx(),
			Height:            bounds.Dy(),
			DenoisingStrength: req.Strength,
			CfgScale:          req.GuidanceScale,
			Steps:             req.Steps,
			Seed:              req.Seed,
			SamplerName:       i.samplerName,
			BatchSize:         1,
			NIter:             1,
		})
		if err != nil {
			return nil, fmt.Errorf("generating variant %d: %w", n+1, err)
		}

		output, err := decodeOutput(resp, req.Seed)
		if err != nil {
			return nil, fmt.Errorf("decoding variant %d: %w", n+1, err)
		}

		output.Prompt = variant.Prompt
		outputs = append(outputs, output)
	}

	return outputs, nil
}

// decodeOutput decodes the first returned image. The used seed comes from the
// PNG parameters chunk, then the response info, then the requested seed.
func decodeOutput(resp *stable_diffusion_api.ImageToImageResponse, requestedSeed int64) (entities.GeneratedImage, error) {
	data, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		return entities.GeneratedImage{}, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return entities.GeneratedImage{}, err
	}

	seed := requestedSeed
	if len(resp.Seeds) > 0 {
		seed = resp.Seeds[0]
	}

	if extractor, err := png_info_extractor.New(png_info_extractor.Config{PngData: data}); err == nil {
		if info, err := extractor.ExtractDiffusionInfo(); err == nil && info.HasSeed {
			seed = info.Seed
		}
	}

	return entities.GeneratedImage{Image: img, Seed: seed}, nil
}
