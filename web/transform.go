package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kidcanvas/entities"
	"kidcanvas/export_packager"
	"kidcanvas/pipeline"
	"kidcanvas/sketch_queue"
)

type outputResponse struct {
	Prompt string `json:"prompt"`
	Seed   int64  `json:"seed"`
	Image  string `json:"image"`
}

type transformResponse struct {
	Prompt      string           `json:"prompt"`
	Input       string           `json:"input"`
	Outputs     []outputResponse `json:"outputs"`
	Zip         string           `json:"zip"`
	ZipFilename string           `json:"zip_filename"`
}

type outcome struct {
	result *pipeline.Result
	err    error
}

// Transform queues a submission for the session and waits for its result.
func (s *Server) Transform(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	if err = s.parseForm(w, r); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid_form", err.Error())

		return
	}

	prompt := r.FormValue("prompt")
	if strings.TrimSpace(prompt) == "" {
		s.failErr(w, r, pipeline.ErrEmptyPrompt)

		return
	}

	drawing, err := s.readDrawing(r)
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	background, err := readOptionalFile(r, "background")
	if err != nil {
		s.fail(w, http.StatusBadRequest, "invalid_form", err.Error())

		return
	}

	includeBackground := true
	if v := r.FormValue("include_background"); v != "" {
		if includeBackground, err = strconv.ParseBool(v); err != nil {
			s.fail(w, http.StatusBadRequest, "invalid_form", "include_background must be a boolean")

			return
		}
	}

	settings, err := sess.Settings(r.Context())
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	done := make(chan outcome, 1)

	position, err := s.queue.AddSketch(&sketch_queue.QueueItem{
		Submission: pipeline.Submission{
			SessionID:         sess.ID,
			Prompt:            prompt,
			Drawing:           drawing,
			BackgroundUpload:  background,
			BackgroundURL:     strings.TrimSpace(r.FormValue("background_url")),
			IncludeBackground: includeBackground,
			CanvasColor:       r.FormValue("canvas_color"),
			Settings:          settings,
		},
		Ctx: ctx,
		OnDone: func(result *pipeline.Result, err error) {
			done <- outcome{result: result, err: err}
		},
	})
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	s.logger.Debug().
		Str("request_id", RequestIDFromContext(r.Context())).
		Str("session_id", sess.ID).
		Int("position", position).
		Msg("sketch queued")

	var o outcome

	select {
	case o = <-done:
	case <-ctx.Done():
		o.err = ctx.Err()
	}

	if o.err != nil {
		s.failErr(w, r, o.err)

		return
	}

	s.json(w, http.StatusOK, newTransformResponse(o.result))
}

func newTransformResponse(result *pipeline.Result) transformResponse {
	resp := transformResponse{
		Prompt:      result.Prompt,
		Input:       export_packager.DataURI(export_packager.MIMETypePNG, result.InputPNG),
		Outputs:     make([]outputResponse, len(result.Outputs)),
		Zip:         export_packager.DataURI(export_packager.MIMETypeZip, result.Zip),
		ZipFilename: result.ZipFilename,
	}

	for i, output := range result.Outputs {
		resp.Outputs[i] = outputResponse{
			Prompt: output.Prompt,
			Seed:   output.Seed,
			Image:  export_packager.DataURI(export_packager.MIMETypePNG, result.OutputPNGs[i]),
		}
	}

	return resp
}

// ExportPNG returns the drawing alone as a downloadable PNG.
func (s *Server) ExportPNG(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid_form", err.Error())

		return
	}

	drawing, err := s.readDrawing(r)
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	img, err := drawing.Image()
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	data, err := s.packager.PackageInlineLink(img)
	if err != nil {
		s.failErr(w, r, err)

		return
	}

	s.json(w, http.StatusOK, map[string]string{
		"filename": "kidcanvas_" + strings.ReplaceAll(uuid.NewString(), "-", "") + ".png",
		"image":    export_packager.DataURI(export_packager.MIMETypePNG, data),
	})
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	return r.ParseMultipartForm(s.maxUploadBytes)
}

// readDrawing accepts either a raw RGBA buffer (drawing_rgba, base64, with
// width and height) or an image file (drawing). A raw buffer must match the
// canvas size; an image file is fitted to it.
func (s *Server) readDrawing(r *http.Request) (entities.CanvasFrame, error) {
	if raw := r.FormValue("drawing_rgba"); raw != "" {
		pix, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return entities.CanvasFrame{}, fmt.Errorf("%w: drawing_rgba is not base64", entities.ErrInvalidCanvasFrame)
		}

		width, err := intFormValue(r, "width", s.canvasWidth)
		if err != nil {
			return entities.CanvasFrame{}, err
		}

		height, err := intFormValue(r, "height", s.canvasHeight)
		if err != nil {
			return entities.CanvasFrame{}, err
		}

		frame := entities.CanvasFrame{Width: width, Height: height, Pix: pix}
		if err = frame.ValidateSize(s.canvasWidth, s.canvasHeight); err != nil {
			return entities.CanvasFrame{}, err
		}

		return frame, nil
	}

	data, err := readOptionalFile(r, "drawing")
	if err != nil {
		return entities.CanvasFrame{}, err
	}

	if data == nil {
		return entities.CanvasFrame{}, fmt.Errorf("%w: missing drawing", entities.ErrInvalidCanvasFrame)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return entities.CanvasFrame{}, fmt.Errorf("%w: %v", entities.ErrInvalidCanvasFrame, err)
	}

	if b := img.Bounds(); b.Dx() != s.canvasWidth || b.Dy() != s.canvasHeight {
		img = imaging.Fill(img, s.canvasWidth, s.canvasHeight, imaging.Center, imaging.CatmullRom)
	}

	return entities.CanvasFrameFromImage(img), nil
}

func intFormValue(r *http.Request, key string, fallback int) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", entities.ErrInvalidCanvasFrame, key)
	}

	return n, nil
}

func readOptionalFile(r *http.Request, key string) ([]byte, error) {
	file, _, err := r.FormFile(key)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}

		return nil, err
	}

	defer file.Close()

	return io.ReadAll(file)
}
