package discord_bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"kidcanvas/entities"
)

const (
	sketchCommand   = "sketch"
	settingsCommand = "sketch-settings"
)

var minSteps = 1.0
var maxSteps = float64(entities.MaxSteps)
var minStrength = 0.0
var maxStrength = 1.0
var minGuidance = 1.0

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        sketchCommand,
		Description: "Turn a drawing into pictures",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        "drawing",
				Description: "Your drawing (PNG or JPEG)",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "prompt",
				Description: "Describe the picture",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        "background",
				Description: "Background image to draw on",
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "background_url",
				Description: "Link to a background image",
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "include_background",
				Description: "Send the background along with the drawing (default true)",
			},
		},
	},
	{
		Name:        settingsCommand,
		Description: "Show or change your advanced settings",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "extra_prompt",
				Description: "Styles separated by semicolons; one picture per style",
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "negative_prompt",
				Description: "What the pictures should avoid",
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "steps",
				Description: "Number of inference steps",
				MinValue:    &minSteps,
				MaxValue:    maxSteps,
			},
			{
				Type:        discordgo.ApplicationCommandOptionNumber,
				Name:        "strength",
				Description: "Higher strength strays further from the drawing",
				MinValue:    &minStrength,
				MaxValue:    maxStrength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionNumber,
				Name:        "guidance_scale",
				Description: "Higher scale follows the prompt more closely",
				MinValue:    &minGuidance,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "seed",
				Description: "Seed for repeatable results",
			},
		},
	},
}

type sketchOptions struct {
	Prompt            string
	DrawingURL        string
	BackgroundURL     string
	UploadURL         string
	IncludeBackground bool
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}

	return m
}

func attachmentURL(data discordgo.ApplicationCommandInteractionData, opt *discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	id, ok := opt.Value.(string)
	if !ok || data.Resolved == nil {
		return "", fmt.Errorf("attachment %q is missing", opt.Name)
	}

	attachment, ok := data.Resolved.Attachments[id]
	if !ok || attachment == nil {
		return "", fmt.Errorf("attachment %q is missing", opt.Name)
	}

	return attachment.URL, nil
}

func parseSketchOptions(data discordgo.ApplicationCommandInteractionData) (*sketchOptions, error) {
	opts := optionMap(data.Options)

	parsed := &sketchOptions{IncludeBackground: true}

	if opt, ok := opts["prompt"]; ok {
		parsed.Prompt = strings.TrimSpace(opt.StringValue())
	}

	opt, ok := opts["drawing"]
	if !ok {
		return nil, errors.New("a drawing is required")
	}

	var err error
	if parsed.DrawingURL, err = attachmentURL(data, opt); err != nil {
		return nil, err
	}

	if opt, ok = opts["background"]; ok {
		if parsed.UploadURL, err = attachmentURL(data, opt); err != nil {
			return nil, err
		}
	}

	if opt, ok = opts["background_url"]; ok {
		parsed.BackgroundURL = strings.TrimSpace(opt.StringValue())
	}

	if opt, ok = opts["include_background"]; ok {
		parsed.IncludeBackground = opt.BoolValue()
	}

	return parsed, nil
}

// applySettingsOptions copies the given options onto settings and reports
// whether anything changed.
func applySettingsOptions(settings *entities.GenerationSettings, options []*discordgo.ApplicationCommandInteractionDataOption) bool {
	opts := optionMap(options)

	if opt, ok := opts["extra_prompt"]; ok {
		settings.ExtraPrompt = opt.StringValue()
	}

	if opt, ok := opts["negative_prompt"]; ok {
		settings.NegativePrompt = opt.StringValue()
	}

	if opt, ok := opts["steps"]; ok {
		settings.Steps = int(opt.IntValue())
	}

	if opt, ok := opts["strength"]; ok {
		settings.Strength = opt.FloatValue()
	}

	if opt, ok := opts["guidance_scale"]; ok {
		settings.GuidanceScale = opt.FloatValue()
	}

	if opt, ok := opts["seed"]; ok {
		settings.Seed = opt.IntValue()
	}

	return len(opts) > 0
}

func settingsMessageContent(settings *entities.GenerationSettings) string {
	var b strings.Builder

	b.WriteString("Your settings:\n")

	for i, fragment := range settings.StyleFragments() {
		if fragment == "" {
			fragment = "(prompt only)"
		}

		fmt.Fprintf(&b, "Style %d: `%s`\n", i+1, fragment)
	}

	fmt.Fprintf(&b, "Negative prompt: `%s`\n", settings.NegativePrompt)
	fmt.Fprintf(&b, "Steps: %d, strength: %v, guidance scale: %v, seed: %d",
		settings.Steps, settings.Strength, settings.GuidanceScale, settings.Seed)

	return b.String()
}

func sketchMessageContent(userID, prompt string, progress float64) string {
	if progress >= 0 && progress < 1 {
		return fmt.Sprintf("<@%s> asked me to turn their drawing into \"%s\".\n> %.0f%% done",
			userID, prompt, progress*100)
	}

	return fmt.Sprintf("<@%s> asked me to turn their drawing into \"%s\".", userID, prompt)
}
