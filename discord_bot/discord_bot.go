package discord_bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"kidcanvas/composite_renderer"
	"kidcanvas/entities"
	"kidcanvas/export_packager"
	"kidcanvas/pipeline"
	"kidcanvas/session"
	"kidcanvas/sketch_queue"
)

const (
	maxAttachmentBytes = 20 << 20
	attachmentTimeout  = 30 * time.Second
	devCommandPrefix   = "dev_"
)

type botImpl struct {
	botSession         *discordgo.Session
	guildID            string
	queue              sketch_queue.Queue
	sessions           session.Manager
	renderer           composite_renderer.Renderer
	httpClient         *http.Client
	logger             zerolog.Logger
	developmentMode    bool
	removeCommands     bool
	canvasWidth        int
	canvasHeight       int
	registeredCommands []*discordgo.ApplicationCommand

	mu             sync.Mutex
	memberSessions map[string]string
}

type Config struct {
	// DevelopmentMode registers every command with a "dev_" prefix.
	DevelopmentMode bool
	BotToken        string
	GuildID         string
	Queue           sketch_queue.Queue
	Sessions        session.Manager
	Renderer        composite_renderer.Renderer
	// CanvasWidth and CanvasHeight are the size drawings are fitted to. They
	// default to 600x400 and must match the background resolver.
	CanvasWidth  int
	CanvasHeight int
	HTTPClient   *http.Client
	// RemoveCommands deletes the registered commands when the bot stops.
	RemoveCommands bool
	Logger         *zerolog.Logger
}

func New(cfg Config) (Bot, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("missing bot token")
	}

	if cfg.GuildID == "" {
		return nil, errors.New("missing guild ID")
	}

	if cfg.Queue == nil {
		return nil, errors.New("missing sketch queue")
	}

	if cfg.Sessions == nil {
		return nil, errors.New("missing session manager")
	}

	if cfg.Renderer == nil {
		return nil, errors.New("missing renderer")
	}

	if cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 {
		cfg.CanvasWidth, cfg.CanvasHeight = entities.DefaultCanvasWidth, entities.DefaultCanvasHeight
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: attachmentTimeout}
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "discord_bot").Logger()
	}

	botSession, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, err
	}

	bot := &botImpl{
		botSession:         botSession,
		guildID:            cfg.GuildID,
		queue:              cfg.Queue,
		sessions:           cfg.Sessions,
		renderer:           cfg.Renderer,
		httpClient:         httpClient,
		logger:             logger,
		developmentMode:    cfg.DevelopmentMode,
		removeCommands:     cfg.RemoveCommands,
		canvasWidth:        cfg.CanvasWidth,
		canvasHeight:       cfg.CanvasHeight,
		registeredCommands: make([]*discordgo.ApplicationCommand, 0, len(commands)),
		memberSessions:     make(map[string]string),
	}

	botSession.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Info().Str("user", s.State.User.Username).Msg("logged in")
	})

	botSession.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}

		switch bot.baseCommandName(i.ApplicationCommandData().Name) {
		case sketchCommand:
			bot.processSketchCommand(s, i)
		case settingsCommand:
			bot.processSettingsCommand(s, i)
		default:
			logger.Warn().Str("command", i.ApplicationCommandData().Name).Msg("unknown command")
		}
	})

	if err = botSession.Open(); err != nil {
		return nil, err
	}

	if err = bot.addCommands(); err != nil {
		_ = bot.teardown()

		return nil, err
	}

	return bot, nil
}

func (b *botImpl) Start(ctx context.Context) {
	<-ctx.Done()

	if err := b.teardown(); err != nil {
		b.logger.Error().Err(err).Msg("tearing down bot")
	}
}

func (b *botImpl) teardown() error {
	if !b.removeCommands {
		return b.botSession.Close()
	}

	for _, cmd := range b.registeredCommands {
		if err := b.botSession.ApplicationCommandDelete(b.botSession.State.User.ID, b.guildID, cmd.ID); err != nil {
			b.logger.Warn().Err(err).Str("command", cmd.Name).Msg("removing command")
		}
	}

	return b.botSession.Close()
}

func (b *botImpl) addCommands() error {
	for _, declared := range commands {
		command := *declared
		command.Name = b.commandName(declared.Name)

		b.logger.Info().Str("command", command.Name).Msg("adding command")

		cmd, err := b.botSession.ApplicationCommandCreate(b.botSession.State.User.ID, b.guildID, &command)
		if err != nil {
			return fmt.Errorf("creating '%s' command: %w", command.Name, err)
		}

		b.registeredCommands = append(b.registeredCommands, cmd)
	}

	return nil
}

func (b *botImpl) commandName(name string) string {
	if b.developmentMode {
		return devCommandPrefix + name
	}

	return name
}

func (b *botImpl) baseCommandName(name string) string {
	if b.developmentMode {
		return strings.TrimPrefix(name, devCommandPrefix)
	}

	return name
}

// fitDrawing scales and center-crops img to the canvas size.
func fitDrawing(img image.Image, width, height int) image.Image {
	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		return img
	}

	return imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}

	return i.User
}

// memberSession returns the session kept for a Discord user, starting one on
// first use.
func (b *botImpl) memberSession(ctx context.Context, userID string) (*session.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.memberSessions[userID]; ok {
		sess, err := b.sessions.Get(ctx, id)
		if err == nil {
			return sess, nil
		}

		if !errors.Is(err, session.ErrSessionNotFound) {
			return nil, err
		}
	}

	sess, err := b.sessions.Start(ctx)
	if err != nil {
		return nil, err
	}

	b.memberSessions[userID] = sess.ID

	return sess, nil
}

func (b *botImpl) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("responding to interaction")
	}
}

func (b *botImpl) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, edit *discordgo.WebhookEdit) {
	if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
		b.logger.Error().Err(err).Msg("editing interaction")
	}
}

func (b *botImpl) processSettingsCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	user := interactionUser(i)

	sess, err := b.memberSession(ctx, user.ID)
	if err != nil {
		b.logger.Error().Err(err).Msg("getting member session")
		b.respond(s, i, "I'm sorry, but I couldn't load your settings.")

		return
	}

	settings, err := sess.Settings(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("getting settings")
		b.respond(s, i, "I'm sorry, but I couldn't load your settings.")

		return
	}

	if applySettingsOptions(settings, i.ApplicationCommandData().Options) {
		if settings, err = sess.SaveSettings(ctx, settings); err != nil {
			b.respond(s, i, fmt.Sprintf("I couldn't save that: %v", err))

			return
		}
	}

	b.respond(s, i, settingsMessageContent(settings))
}

func (b *botImpl) processSketchCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)

	opts, err := parseSketchOptions(i.ApplicationCommandData())
	if err != nil {
		b.respond(s, i, err.Error())

		return
	}

	if opts.Prompt == "" {
		b.respond(s, i, pipeline.ErrEmptyPrompt.Error())

		return
	}

	// Attachments are downloaded after acknowledging; Discord expects an
	// answer within three seconds.
	position := b.queue.Len() + 1

	b.respond(s, i, fmt.Sprintf("I'm working on your drawing. You are currently #%d in line.\n%s",
		position, sketchMessageContent(user.ID, opts.Prompt, 1)))

	go b.enqueueSketch(s, i, user, opts)
}

func (b *botImpl) enqueueSketch(s *discordgo.Session, i *discordgo.InteractionCreate, user *discordgo.User, opts *sketchOptions) {
	ctx := context.Background()

	fail := func(message string, err error) {
		b.logger.Error().Err(err).Str("user_id", user.ID).Msg(message)

		content := fmt.Sprintf("I'm sorry, but %s: %v", message, err)
		b.editResponse(s, i, &discordgo.WebhookEdit{Content: &content})
	}

	sess, err := b.memberSession(ctx, user.ID)
	if err != nil {
		fail("I couldn't start your session", err)

		return
	}

	settings, err := sess.Settings(ctx)
	if err != nil {
		fail("I couldn't load your settings", err)

		return
	}

	drawingData, err := b.download(ctx, opts.DrawingURL)
	if err != nil {
		fail("I couldn't download your drawing", err)

		return
	}

	drawing, err := imaging.Decode(bytes.NewReader(drawingData))
	if err != nil {
		fail("I couldn't read your drawing", err)

		return
	}

	drawing = fitDrawing(drawing, b.canvasWidth, b.canvasHeight)

	var background []byte
	if opts.UploadURL != "" {
		if background, err = b.download(ctx, opts.UploadURL); err != nil {
			fail("I couldn't download your background", err)

			return
		}
	}

	_, err = b.queue.AddSketch(&sketch_queue.QueueItem{
		Submission: pipeline.Submission{
			SessionID:         sess.ID,
			Prompt:            opts.Prompt,
			Drawing:           entities.CanvasFrameFromImage(drawing),
			BackgroundUpload:  background,
			BackgroundURL:     opts.BackgroundURL,
			IncludeBackground: opts.IncludeBackground,
			Settings:          settings,
		},
		OnProgress: func(progress float64) {
			content := sketchMessageContent(user.ID, opts.Prompt, progress)
			b.editResponse(s, i, &discordgo.WebhookEdit{Content: &content})
		},
		OnDone: func(result *pipeline.Result, err error) {
			if err != nil {
				fail("I had a problem with your drawing", err)

				return
			}

			b.sendResult(s, i, user, result)
		},
	})
	if err != nil {
		fail("I couldn't queue your drawing", err)
	}
}

func (b *botImpl) sendResult(s *discordgo.Session, i *discordgo.InteractionCreate, user *discordgo.User, result *pipeline.Result) {
	content := sketchMessageContent(user.ID, result.Prompt, 1)

	b.editResponse(s, i, &discordgo.WebhookEdit{
		Content: &content,
		Files:   b.resultFiles(result),
	})
}

// resultFiles attaches a tiled preview of the outputs and the zip. The zip is
// sent on its own when the preview cannot be built.
func (b *botImpl) resultFiles(result *pipeline.Result) []*discordgo.File {
	zip := &discordgo.File{
		ContentType: export_packager.MIMETypeZip,
		Name:        result.ZipFilename,
		Reader:      bytes.NewReader(result.Zip),
	}

	images := make([]image.Image, len(result.Outputs))
	for n, output := range result.Outputs {
		images[n] = output.Image
	}

	preview, err := b.renderer.TileImages(images, len(images))
	if err != nil {
		b.logger.Error().Err(err).Msg("tiling images")

		return []*discordgo.File{zip}
	}

	return []*discordgo.File{
		{
			ContentType: export_packager.MIMETypePNG,
			Name:        "sketch.png",
			Reader:      preview,
		},
		zip,
	}
}

func (b *botImpl) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, err
	}

	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", maxAttachmentBytes)
	}

	return data, nil
}
