package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/rs/zerolog"

	"kidcanvas/background_resolver"
	"kidcanvas/color_codec"
	"kidcanvas/composite_renderer"
	"kidcanvas/entities"
	"kidcanvas/export_packager"
	"kidcanvas/generation_invoker"
	"kidcanvas/session"
)

// ErrEmptyPrompt carries the message shown to the user.
var ErrEmptyPrompt = errors.New("Please describe the picture")

// BackgroundMode decides when a resolved background is blended under the drawing.
type BackgroundMode string

const (
	// BackgroundModePresence includes the background when one was resolved and
	// the submission asks for it.
	BackgroundModePresence BackgroundMode = "presence"
	// BackgroundModeReference never includes the background, matching the
	// first release of the tool.
	BackgroundModeReference BackgroundMode = "reference"
)

const DefaultCanvasColor = "#eee"

type Submission struct {
	// SessionID is optional; when set, the input and outputs are appended to that session.
	SessionID         string
	Prompt            string
	Drawing           entities.CanvasFrame
	BackgroundUpload  []byte
	BackgroundURL     string
	IncludeBackground bool
	// CanvasColor defaults to DefaultCanvasColor.
	CanvasColor string
	// Settings defaults to entities.NewGenerationSettings.
	Settings *entities.GenerationSettings
}

type Result struct {
	Prompt      string
	Composite   *image.NRGBA
	Outputs     []entities.GeneratedImage
	InputPNG    []byte
	OutputPNGs  [][]byte
	Zip         []byte
	ZipFilename string
	Seeds       []int64
}

type pipelineImpl struct {
	resolver              background_resolver.Resolver
	renderer              composite_renderer.Renderer
	invoker               generation_invoker.Invoker
	packager              export_packager.Packager
	sessions              session.Manager
	backgroundMode        BackgroundMode
	skipBackgroundOnError bool
	logger                zerolog.Logger
}

type Config struct {
	Resolver       background_resolver.Resolver
	Renderer       composite_renderer.Renderer
	Invoker        generation_invoker.Invoker
	Packager       export_packager.Packager
	Sessions       session.Manager
	BackgroundMode BackgroundMode
	// SkipBackgroundOnError drops a background that fails to resolve instead
	// of failing the run.
	SkipBackgroundOnError bool
	Logger                *zerolog.Logger
}

func New(cfg Config) (Pipeline, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("missing background resolver")
	}

	if cfg.Renderer == nil {
		return nil, errors.New("missing renderer")
	}

	if cfg.Invoker == nil {
		return nil, errors.New("missing generation invoker")
	}

	if cfg.Packager == nil {
		return nil, errors.New("missing packager")
	}

	switch cfg.BackgroundMode {
	case "":
		cfg.BackgroundMode = BackgroundModePresence
	case BackgroundModePresence, BackgroundModeReference:
	default:
		return nil, fmt.Errorf("unknown background mode %q", cfg.BackgroundMode)
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "pipeline").Logger()
	}

	return &pipelineImpl{
		resolver:              cfg.Resolver,
		renderer:              cfg.Renderer,
		invoker:               cfg.Invoker,
		packager:              cfg.Packager,
		sessions:              cfg.Sessions,
		backgroundMode:        cfg.BackgroundMode,
		skipBackgroundOnError: cfg.SkipBackgroundOnError,
		logger:                logger,
	}, nil
}

func (p *pipelineImpl) Run(ctx context.Context, sub Submission) (*Result, error) {
	prompt := strings.TrimSpace(sub.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	if err := sub.Drawing.Validate(); err != nil {
		return nil, err
	}

	settings := sub.Settings
	if settings == nil {
		settings = entities.NewGenerationSettings(sub.SessionID)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	var sess *session.Session
	if sub.SessionID != "" && p.sessions != nil {
		var err error
		if sess, err = p.sessions.Get(ctx, sub.SessionID); err != nil {
			return nil, err
		}
	}

	canvasColor := sub.CanvasColor
	if canvasColor == "" {
		canvasColor = DefaultCanvasColor
	}

	fill, err := color_codec.Parse(canvasColor, 1)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With().Str("session_id", sub.SessionID).Str("prompt", prompt).Logger()

	background, err := p.resolver.Resolve(ctx, sub.BackgroundUpload, sub.BackgroundURL)
	if err != nil {
		if !p.skipBackgroundOnError {
			return nil, err
		}

		logger.Warn().Err(err).Msg("continuing without background")

		background = nil
	}

	composite, err := p.renderer.Compose(sub.Drawing, background, fill, p.includeBackground(background, sub.IncludeBackground))
	if err != nil {
		return nil, err
	}

	req := settings.Request(prompt)

	logger.Info().Int("variants", len(req.StyleFragments)).Msg("generating")

	outputs, err := p.invoker.Generate(ctx, req, composite)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	if len(outputs) != len(req.StyleFragments) {
		return nil, fmt.Errorf("generation returned %d images for %d style fragments", len(outputs), len(req.StyleFragments))
	}

	drawing, err := sub.Drawing.Image()
	if err != nil {
		return nil, err
	}

	result := &Result{
		Prompt:      prompt,
		Composite:   composite,
		Outputs:     outputs,
		OutputPNGs:  make([][]byte, len(outputs)),
		Seeds:       make([]int64, len(outputs)),
		ZipFilename: export_packager.ZipFilename(prompt),
	}

	outputImages := make([]image.Image, len(outputs))
	for i, output := range outputs {
		outputImages[i] = output.Image
		result.Seeds[i] = output.Seed

		if result.OutputPNGs[i], err = p.packager.PackageInlineLink(output.Image); err != nil {
			return nil, err
		}
	}

	if result.InputPNG, err = p.packager.PackageInlineLink(drawing); err != nil {
		return nil, err
	}

	if result.Zip, err = p.packager.PackageZip(prompt, drawing, outputImages); err != nil {
		return nil, err
	}

	if sess != nil {
		if err = p.record(ctx, sess, req, result); err != nil {
			return nil, err
		}
	}

	logger.Info().Ints64("seeds", result.Seeds).Msg("submission complete")

	return result, nil
}

func (p *pipelineImpl) includeBackground(background image.Image, requested bool) bool {
	if p.backgroundMode == BackgroundModeReference {
		return false
	}

	return background != nil && requested
}

func (p *pipelineImpl) record(ctx context.Context, sess *session.Session, req entities.GenerationRequest, result *Result) error {
	images := make([]*entities.SessionImage, 0, len(result.Outputs)+1)

	images = append(images, &entities.SessionImage{
		Role:   entities.ImageRoleInput,
		Prompt: result.Prompt,
		Seed:   req.Seed,
		PNG:    result.InputPNG,
	})

	for i, output := range result.Outputs {
		images = append(images, &entities.SessionImage{
			Role:   entities.ImageRoleOutput,
			Prompt: output.Prompt,
			Seed:   output.Seed,
			PNG:    result.OutputPNGs[i],
		})
	}

	return sess.Append(ctx, images...)
}
