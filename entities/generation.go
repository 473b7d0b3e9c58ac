package entities

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

const (
	DefaultExtraPrompt = "realistic, high quality, detailed, colorful; " +
		"cartoon, high quality, detailed; " +
		"3d animated, high quality, detailed, colorful"
	DefaultNegativePrompt = "distorted, deformed, disfigured, ugly"
	DefaultSteps          = 50
	DefaultStrength       = 0.6
	DefaultGuidanceScale  = 7.0
	DefaultSeed           = 12

	MaxSteps = 100
)

var ErrInvalidSettings = errors.New("invalid generation settings")

// GenerationSettings holds the advanced settings a user saves for their session.
type GenerationSettings struct {
	OwnerID        string  `json:"owner_id"`
	ExtraPrompt    string  `json:"extra_prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"steps"`
	Strength       float64 `json:"strength"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Seed           int64   `json:"seed"`
}

func NewGenerationSettings(ownerID string) *GenerationSettings {
	return &GenerationSettings{
		OwnerID:        ownerID,
		ExtraPrompt:    DefaultExtraPrompt,
		NegativePrompt: DefaultNegativePrompt,
		Steps:          DefaultSteps,
		Strength:       DefaultStrength,
		GuidanceScale:  DefaultGuidanceScale,
		Seed:           DefaultSeed,
	}
}

func (s *GenerationSettings) Validate() error {
	if s.Steps < 1 || s.Steps > MaxSteps {
		return fmt.Errorf("%w: steps must be between 1 and %d", ErrInvalidSettings, MaxSteps)
	}

	if s.Strength < 0 || s.Strength > 1 {
		return fmt.Errorf("%w: strength must be between 0 and 1", ErrInvalidSettings)
	}

	if s.GuidanceScale < 1 {
		return fmt.Errorf("%w: guidance scale must be at least 1", ErrInvalidSettings)
	}

	return nil
}

// StyleFragments splits the semicolon separated extra prompt. Blank entries are
// dropped; an extra prompt with no entries yields a single blank fragment so a
// submission always produces one variant.
func (s *GenerationSettings) StyleFragments() []string {
	return ParseStyleFragments(s.ExtraPrompt)
}

func ParseStyleFragments(extraPrompt string) []string {
	fragments := make([]string, 0)

	for _, fragment := range strings.Split(extraPrompt, ";") {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}

		fragments = append(fragments, fragment)
	}

	if len(fragments) == 0 {
		fragments = append(fragments, "")
	}

	return fragments
}

// Request builds the generation request for a base prompt.
func (s *GenerationSettings) Request(basePrompt string) GenerationRequest {
	return GenerationRequest{
		BasePrompt:     basePrompt,
		StyleFragments: s.StyleFragments(),
		NegativePrompt: s.NegativePrompt,
		Seed:           s.Seed,
		Steps:          s.Steps,
		Strength:       s.Strength,
		GuidanceScale:  s.GuidanceScale,
	}
}

// GenerationRequest is one call to the generation invoker. When NegativePrompts
// is set it must hold exactly one entry per style fragment.
type GenerationRequest struct {
	BasePrompt      string
	StyleFragments  []string
	NegativePrompt  string
	NegativePrompts []string
	Seed            int64
	Steps           int
	Strength        float64
	GuidanceScale   float64
}

// Variant is the effective prompt pair for one style fragment.
type Variant struct {
	Prompt         string
	NegativePrompt string
}

var ErrFragmentCountMismatch = errors.New("negative prompts do not match style fragments")

// Variants expands the request into one prompt pair per style fragment, in order.
func (r GenerationRequest) Variants() ([]Variant, error) {
	if r.NegativePrompts != nil && len(r.NegativePrompts) != len(r.StyleFragments) {
		return nil, fmt.Errorf("%w: %d fragments, %d negative prompts",
			ErrFragmentCountMismatch, len(r.StyleFragments), len(r.NegativePrompts))
	}

	variants := make([]Variant, len(r.StyleFragments))

	for i, fragment := range r.StyleFragments {
		prompt := r.BasePrompt
		if strings.TrimSpace(fragment) != "" {
			prompt = r.BasePrompt + ", " + fragment
		}

		negative := r.NegativePrompt
		if r.NegativePrompts != nil {
			negative = r.NegativePrompts[i]
		}

		variants[i] = Variant{Prompt: prompt, NegativePrompt: negative}
	}

	return variants, nil
}

// GeneratedImage is one output of a generation, tagged with the prompt and the
// seed the backend actually used.
type GeneratedImage struct {
	Image  image.Image
	Prompt string
	Seed   int64
}
