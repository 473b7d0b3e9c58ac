package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"kidcanvas/entities"
	"kidcanvas/export_packager"
	"kidcanvas/session"
	"kidcanvas/sketch_queue"
)

const (
	defaultMaxUploadBytes = 32 << 20
	defaultRequestTimeout = 10 * time.Minute
)

type Server struct {
	sessions       session.Manager
	queue          sketch_queue.Queue
	packager       export_packager.Packager
	canvasWidth    int
	canvasHeight   int
	maxUploadBytes int64
	requestTimeout time.Duration
	logger         zerolog.Logger
}

type Config struct {
	Sessions session.Manager
	Queue    sketch_queue.Queue
	Packager export_packager.Packager
	// CanvasWidth and CanvasHeight are the drawing size every transform must
	// match. They default to 600x400.
	CanvasWidth  int
	CanvasHeight int
	// MaxUploadBytes bounds a multipart transform request.
	MaxUploadBytes int64
	// RequestTimeout bounds how long a transform waits for its turn and result.
	RequestTimeout time.Duration
	Logger         *zerolog.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("missing session manager")
	}

	if cfg.Queue == nil {
		return nil, errors.New("missing sketch queue")
	}

	if cfg.Packager == nil {
		return nil, errors.New("missing packager")
	}

	if cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 {
		cfg.CanvasWidth, cfg.CanvasHeight = entities.DefaultCanvasWidth, entities.DefaultCanvasHeight
	}

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "web").Logger()
	}

	return &Server{
		sessions:       cfg.Sessions,
		queue:          cfg.Queue,
		packager:       cfg.Packager,
		canvasWidth:    cfg.CanvasWidth,
		canvasHeight:   cfg.CanvasHeight,
		maxUploadBytes: cfg.MaxUploadBytes,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, middleware.RealIP, middleware.Recoverer, Logger(s.logger))

	r.Get("/v1/healthz", s.Health)
	r.Get("/v1/options", s.Options)
	r.Post("/v1/canvas-config", s.CanvasConfig)
	r.Post("/v1/export-png", s.ExportPNG)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.StartSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.EndSession)
			r.Get("/images", s.ListImages)
			r.Get("/settings", s.GetSettings)
			r.Put("/settings", s.PutSettings)
			r.Post("/transform", s.Transform)
		})
	})

	return r
}
