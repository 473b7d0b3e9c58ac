package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"kidcanvas/background_resolver"
	"kidcanvas/canvas_config"
	"kidcanvas/color_codec"
	"kidcanvas/composite_renderer"
	"kidcanvas/entities"
	"kidcanvas/generation_invoker"
	"kidcanvas/pipeline"
	"kidcanvas/session"
	"kidcanvas/sketch_queue"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) fail(w http.ResponseWriter, code int, errCode, message string) {
	s.json(w, code, errorResponse{Error: errCode, Message: message})
}

// failErr maps a domain error to a status and error code.
func (s *Server) failErr(w http.ResponseWriter, r *http.Request, err error) {
	code, errCode := classify(err)

	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("request failed")
	}

	s.fail(w, code, errCode, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyPrompt):
		return http.StatusUnprocessableEntity, "empty_prompt"
	case errors.Is(err, background_resolver.ErrBackgroundFetch):
		return http.StatusBadGateway, "background_fetch_failed"
	case errors.Is(err, background_resolver.ErrUndecodableUpload):
		return http.StatusBadRequest, "invalid_background"
	case errors.Is(err, background_resolver.ErrIncompatibleAspectRatio):
		return http.StatusUnprocessableEntity, "incompatible_aspect_ratio"
	case errors.Is(err, composite_renderer.ErrDimensionMismatch),
		errors.Is(err, entities.ErrInvalidCanvasFrame):
		return http.StatusBadRequest, "invalid_drawing"
	case errors.Is(err, entities.ErrInvalidSettings),
		errors.Is(err, entities.ErrFragmentCountMismatch):
		return http.StatusUnprocessableEntity, "invalid_settings"
	case errors.Is(err, canvas_config.ErrUnknownDrawingMode),
		errors.Is(err, canvas_config.ErrOutOfRange),
		errors.Is(err, color_codec.ErrInvalidColorFormat):
		return http.StatusUnprocessableEntity, "invalid_canvas_options"
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, sketch_queue.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	case errors.Is(err, generation_invoker.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
