package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kidcanvas/canvas_config"
	"kidcanvas/entities"
	"kidcanvas/export_packager"
)

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.json(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"queue_length": s.queue.Len(),
		"busy":         s.queue.Busy(),
	})
}

type rangeResponse struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type canvasSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type optionsResponse struct {
	DrawingModes       []string                     `json:"drawing_modes"`
	CanvasDefaults     canvas_config.Options        `json:"canvas_defaults"`
	GenerationDefaults *entities.GenerationSettings `json:"generation_defaults"`
	BrushSize          rangeResponse                `json:"brush_size"`
	Steps              rangeResponse                `json:"steps"`
	Canvas             canvasSize                   `json:"canvas"`
}

func (s *Server) Options(w http.ResponseWriter, r *http.Request) {
	s.json(w, http.StatusOK, optionsResponse{
		DrawingModes:       canvas_config.DrawingModes(),
		CanvasDefaults:     canvas_config.DefaultOptions(),
		GenerationDefaults: entities.NewGenerationSettings(""),
		BrushSize:          rangeResponse{Min: canvas_config.MinBrushSize, Max: canvas_config.MaxBrushSize},
		Steps:              rangeResponse{Min: 1, Max: entities.MaxSteps},
		Canvas:             canvasSize{Width: entities.DefaultCanvasWidth, Height: entities.DefaultCanvasHeight},
	})
}

// CanvasConfig reads tool options, unset fields taking their defaults, and
// returns the matching canvas widget settings.
func (s *Server) CanvasConfig(w http.ResponseWriter, r *http.Request) {
	opts := canvas_config.DefaultOptions()

	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid_json", err.Error())

		return
	}

	cfg, err := canvas_config.Build(opts)
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	s.json(w, http.StatusOK, cfg)
}

func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Start(r.Context())
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	s.json(w, http.StatusCreated, map[string]string{"id": sess.ID})
}

func (s *Server) EndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.failErr(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type imageResponse struct {
	ID        int64              `json:"id"`
	Role      entities.ImageRole `json:"role"`
	SortOrder int                `json:"sort_order"`
	Prompt    string             `json:"prompt"`
	Seed      int64              `json:"seed"`
	CreatedAt time.Time          `json:"created_at"`
	Image     string             `json:"image"`
}

func (s *Server) ListImages(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	images, err := sess.Images(r.Context())
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	resp := make([]imageResponse, len(images))
	for i, image := range images {
		resp[i] = imageResponse{
			ID:        image.ID,
			Role:      image.Role,
			SortOrder: image.SortOrder,
			Prompt:    image.Prompt,
			Seed:      image.Seed,
			CreatedAt: image.CreatedAt,
			Image:     export_packager.DataURI(export_packager.MIMETypePNG, image.PNG),
		}
	}

	s.json(w, http.StatusOK, resp)
}

func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	settings, err := sess.Settings(r.Context())
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	s.json(w, http.StatusOK, settings)
}

// PutSettings applies the given fields over the current settings.
func (s *Server) PutSettings(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	settings, err := sess.Settings(r.Context())
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	if err = json.NewDecoder(r.Body).Decode(settings); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid_json", err.Error())

		return
	}

	saved, err := sess.SaveSettings(r.Context(), settings)
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	s.json(w, http.StatusOK, saved)
}
