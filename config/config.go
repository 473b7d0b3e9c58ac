package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"kidcanvas/databases/sqlite"
	"kidcanvas/entities"
)

const envPrefix = "KIDCANVAS_"

type Config struct {
	AppEnv   string
	LogLevel string

	Addr             string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	RequestTimeout   time.Duration
	ShutdownTimeout  time.Duration
	MaxUploadBytes   int64

	StableDiffusionHost    string
	StableDiffusionSampler string

	DatabaseDSN string

	CanvasWidth                 int
	CanvasHeight                int
	BackgroundMode              string
	AspectPolicy                string
	SkipBackgroundOnError       bool
	AllowPrivateBackgroundHosts bool
	QueueCapacity               int

	DiscordToken          string
	DiscordGuildID        string
	DiscordDevMode        bool
	DiscordRemoveCommands bool
}

// DiscordEnabled reports whether the Discord front end should run.
func (c *Config) DiscordEnabled() bool {
	return c.DiscordToken != "" && c.DiscordGuildID != ""
}

// Load reads .env.local and .env when present, then parses args. Every flag
// defaults to its KIDCANVAS_* environment variable.
func Load(args []string) (*Config, error) {
	// Variables already set win; .env.local is read first so it overrides .env.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	return Parse(args, os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

func Parse(args []string, lookup lookupFunc) (*Config, error) {
	env := envReader{lookup: lookup}
	cfg := &Config{}

	fs := flag.NewFlagSet("kidcanvas", flag.ContinueOnError)

	fs.StringVar(&cfg.AppEnv, "env", env.str("APP_ENV", "development"), "Application environment (development or production)")
	fs.StringVar(&cfg.LogLevel, "log-level", env.str("LOG_LEVEL", ""), "Log level override (debug, info, warn, error)")

	fs.StringVar(&cfg.Addr, "addr", env.str("ADDR", ":8080"), "HTTP listen address")
	fs.DurationVar(&cfg.HTTPReadTimeout, "http-read-timeout", env.duration("HTTP_READ_TIMEOUT", time.Minute), "HTTP read timeout")
	fs.DurationVar(&cfg.HTTPWriteTimeout, "http-write-timeout", env.duration("HTTP_WRITE_TIMEOUT", 11*time.Minute), "HTTP write timeout")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", env.duration("REQUEST_TIMEOUT", 10*time.Minute), "How long a transform request waits for its result")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", env.duration("SHUTDOWN_TIMEOUT", 30*time.Second), "Graceful shutdown timeout")
	fs.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", env.int64("MAX_UPLOAD_BYTES", 32<<20), "Largest accepted multipart request")

	fs.StringVar(&cfg.StableDiffusionHost, "host", env.str("SD_HOST", ""), "Host for the Automatic1111 API")
	fs.StringVar(&cfg.StableDiffusionSampler, "sampler", env.str("SD_SAMPLER", "Euler a"), "Sampler used for img2img")

	fs.StringVar(&cfg.DatabaseDSN, "db", env.str("DB_DSN", sqlite.MemoryDSN), "sqlite DSN for session state")

	fs.IntVar(&cfg.CanvasWidth, "canvas-width", env.int("CANVAS_WIDTH", entities.DefaultCanvasWidth), "Canvas width in pixels")
	fs.IntVar(&cfg.CanvasHeight, "canvas-height", env.int("CANVAS_HEIGHT", entities.DefaultCanvasHeight), "Canvas height in pixels")
	fs.StringVar(&cfg.BackgroundMode, "background-mode", env.str("BACKGROUND_MODE", "presence"), "When to include the background (presence or reference)")
	fs.StringVar(&cfg.AspectPolicy, "aspect-policy", env.str("ASPECT_POLICY", "clamp"), "Narrow backgrounds: clamp or strict")
	fs.BoolVar(&cfg.SkipBackgroundOnError, "skip-background-on-error", env.bool("SKIP_BACKGROUND_ON_ERROR", false), "Continue without a background that fails to load")
	fs.BoolVar(&cfg.AllowPrivateBackgroundHosts, "allow-private-backgrounds", env.bool("ALLOW_PRIVATE_BACKGROUNDS", false), "Allow background URLs on private networks")
	fs.IntVar(&cfg.QueueCapacity, "queue-capacity", env.int("QUEUE_CAPACITY", 100), "Sketches that may wait in line")

	fs.StringVar(&cfg.DiscordToken, "token", env.str("DISCORD_TOKEN", ""), "Discord bot access token")
	fs.StringVar(&cfg.DiscordGuildID, "guild", env.str("DISCORD_GUILD", ""), "Discord guild ID")
	fs.BoolVar(&cfg.DiscordDevMode, "dev", env.bool("DISCORD_DEV", false), "Register \"dev_\" prefixed commands")
	fs.BoolVar(&cfg.DiscordRemoveCommands, "remove", env.bool("DISCORD_REMOVE_COMMANDS", true), "Delete commands when the bot exits")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.StableDiffusionHost == "" {
		return errors.New("API host is required (-host or " + envPrefix + "SD_HOST)")
	}

	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 ||
		c.CanvasWidth > entities.MaxCanvasDimension || c.CanvasHeight > entities.MaxCanvasDimension {
		return fmt.Errorf("canvas dimensions must be between 1 and %d", entities.MaxCanvasDimension)
	}

	switch c.BackgroundMode {
	case "presence", "reference":
	default:
		return errors.New("background mode must be presence or reference")
	}

	switch c.AspectPolicy {
	case "clamp", "strict":
	default:
		return errors.New("aspect policy must be clamp or strict")
	}

	if (c.DiscordToken == "") != (c.DiscordGuildID == "") {
		return errors.New("discord needs both a token and a guild ID")
	}

	return nil
}

type envReader struct {
	lookup lookupFunc
}

func (e envReader) str(key, fallback string) string {
	if v, ok := e.lookup(envPrefix + key); ok && v != "" {
		return v
	}

	return fallback
}

func (e envReader) int(key string, fallback int) int {
	if i, err := strconv.Atoi(e.str(key, "")); err == nil {
		return i
	}

	return fallback
}

func (e envReader) int64(key string, fallback int64) int64 {
	if i, err := strconv.ParseInt(e.str(key, ""), 10, 64); err == nil {
		return i
	}

	return fallback
}

func (e envReader) bool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(e.str(key, "")); err == nil {
		return b
	}

	return fallback
}

func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.str(key, "")); err == nil {
		return d
	}

	return fallback
}
