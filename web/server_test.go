package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidcanvas/background_resolver"
	"kidcanvas/composite_renderer"
	"kidcanvas/databases/sqlite"
	"kidcanvas/entities"
	"kidcanvas/export_packager"
	"kidcanvas/pipeline"
	"kidcanvas/repositories/default_settings"
	"kidcanvas/repositories/session_images"
	"kidcanvas/session"
	"kidcanvas/sketch_queue"
)

const (
	testWidth  = 6
	testHeight = 4
)

type echoInvoker struct{}

func (echoInvoker) Generate(_ context.Context, req entities.GenerationRequest, init image.Image) ([]entities.GeneratedImage, error) {
	variants, err := req.Variants()
	if err != nil {
		return nil, err
	}

	outputs := make([]entities.GeneratedImage, len(variants))
	for i, v := range variants {
		outputs[i] = entities.GeneratedImage{Image: imaging.Clone(init), Prompt: v.Prompt, Seed: req.Seed}
	}

	return outputs, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := sqlite.New(ctx, sqlite.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	imageRepo, err := session_images.NewRepository(&session_images.Config{DB: db})
	require.NoError(t, err)

	settingsRepo, err := default_settings.NewRepository(&default_settings.Config{DB: db})
	require.NoError(t, err)

	sessions, err := session.NewManager(session.Config{ImageRepo: imageRepo, SettingsRepo: settingsRepo})
	require.NoError(t, err)

	resolver, err := background_resolver.New(background_resolver.Config{Width: testWidth, Height: testHeight})
	require.NoError(t, err)

	renderer, err := composite_renderer.New(composite_renderer.Config{})
	require.NoError(t, err)

	packager, err := export_packager.New(export_packager.Config{})
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.Config{
		Resolver: resolver,
		Renderer: renderer,
		Invoker:  echoInvoker{},
		Packager: packager,
		Sessions: sessions,
	})
	require.NoError(t, err)

	queue, err := sketch_queue.New(sketch_queue.Config{Pipeline: p})
	require.NoError(t, err)

	go queue.StartPolling(ctx)

	srv, err := New(Config{
		Sessions:     sessions,
		Queue:        queue,
		Packager:     packager,
		CanvasWidth:  testWidth,
		CanvasHeight: testHeight,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return ts
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp
}

func startSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	var created map[string]string
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions", nil, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created["id"])

	return created["id"]
}

type formFile struct {
	field string
	data  []byte
}

func postForm(t *testing.T, url string, fields map[string]string, files ...formFile) *http.Response {
	t.Helper()

	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}

	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.field+".png")
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}

	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func rgbaField() string {
	return base64.StdEncoding.EncodeToString(make([]byte, testWidth*testHeight*4))
}

func pngOf(t *testing.T, img image.Image) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	require.NoError(t, imaging.Encode(buf, img, imaging.PNG))

	return buf.Bytes()
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()

	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))

	return e
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/healthz", nil, &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestOptions(t *testing.T) {
	ts := newTestServer(t)

	var body optionsResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/options", nil, &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body.DrawingModes, 7)
	assert.Equal(t, "#7D7DFF", body.CanvasDefaults.FillColor)
	assert.Equal(t, entities.DefaultSteps, body.GenerationDefaults.Steps)
	assert.Equal(t, 25, body.BrushSize.Max)
}

func TestCanvasConfig(t *testing.T) {
	ts := newTestServer(t)

	var cfg map[string]any
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/canvas-config", map[string]any{"drawing_mode": "rectangle"}, &cfg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rect", cfg["drawing_mode"])
	assert.Equal(t, "rgba(125, 125, 255, 1)", cfg["fill_color"])

	var e errorResponse
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/canvas-config", map[string]any{"brush_size": 30}, &e)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_canvas_options", e.Error)
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)
	base := ts.URL + "/v1/sessions/" + id

	var settings entities.GenerationSettings
	resp := doJSON(t, http.MethodGet, base+"/settings", nil, &settings)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, entities.DefaultSteps, settings.Steps)

	resp = doJSON(t, http.MethodPut, base+"/settings", map[string]any{"steps": 20, "extra_prompt": "crayon"}, &settings)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 20, settings.Steps)
	assert.Equal(t, entities.DefaultNegativePrompt, settings.NegativePrompt)

	var e errorResponse
	resp = doJSON(t, http.MethodPut, base+"/settings", map[string]any{"strength": 2}, &e)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_settings", e.Error)

	resp = doJSON(t, http.MethodDelete, base, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, base+"/images", nil, &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session_not_found", e.Error)
}

func TestTransform(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)
	base := ts.URL + "/v1/sessions/" + id

	resp := postForm(t, base+"/transform", map[string]string{
		"prompt":       "a cat",
		"drawing_rgba": rgbaField(),
		"width":        "6",
		"height":       "4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body transformResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "a cat", body.Prompt)
	assert.Equal(t, "KidCanvas_a cat.zip", body.ZipFilename)
	assert.True(t, strings.HasPrefix(body.Zip, "data:application/zip;base64,"))
	assert.True(t, strings.HasPrefix(body.Input, "data:image/png;base64,"))
	require.Len(t, body.Outputs, 3)
	assert.Equal(t, "a cat, realistic, high quality, detailed, colorful", body.Outputs[0].Prompt)

	var images []imageResponse
	resp = doJSON(t, http.MethodGet, base+"/images", nil, &images)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, images, 4)
	assert.Equal(t, entities.ImageRoleInput, images[0].Role)
	assert.Equal(t, body.Input, images[0].Image)
}

func TestTransform_DrawingFileWithSavedSettings(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)
	base := ts.URL + "/v1/sessions/" + id

	resp := doJSON(t, http.MethodPut, base+"/settings", map[string]any{"extra_prompt": "crayon"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	drawing := pngOf(t, imaging.New(testWidth, testHeight, color.NRGBA{R: 200, A: 255}))

	resp = postForm(t, base+"/transform",
		map[string]string{"prompt": "a dog", "include_background": "false"},
		formFile{field: "drawing", data: drawing})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body transformResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Outputs, 1)
	assert.Equal(t, "a dog, crayon", body.Outputs[0].Prompt)
}

func TestTransform_DrawingFileFittedToCanvas(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)

	drawing := pngOf(t, imaging.New(3, 2, color.NRGBA{G: 200, A: 255}))
	background := pngOf(t, imaging.New(12, 8, color.NRGBA{B: 200, A: 255}))

	resp := postForm(t, ts.URL+"/v1/sessions/"+id+"/transform",
		map[string]string{"prompt": "a frog"},
		formFile{field: "drawing", data: drawing},
		formFile{field: "background", data: background})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body transformResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(body.Input, "data:image/png;base64,"))
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, testWidth, img.Bounds().Dx())
	assert.Equal(t, testHeight, img.Bounds().Dy())
}

func TestTransform_Errors(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)
	base := ts.URL + "/v1/sessions/" + id

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	tests := []struct {
		name    string
		url     string
		fields  map[string]string
		status  int
		errCode string
	}{
		{
			name:    "empty prompt",
			url:     base + "/transform",
			fields:  map[string]string{"prompt": "  ", "drawing_rgba": rgbaField()},
			status:  http.StatusUnprocessableEntity,
			errCode: "empty_prompt",
		},
		{
			name:    "missing drawing",
			url:     base + "/transform",
			fields:  map[string]string{"prompt": "cat"},
			status:  http.StatusBadRequest,
			errCode: "invalid_drawing",
		},
		{
			name:    "wrong buffer size",
			url:     base + "/transform",
			fields:  map[string]string{"prompt": "cat", "drawing_rgba": rgbaField(), "width": "7", "height": "4"},
			status:  http.StatusBadRequest,
			errCode: "invalid_drawing",
		},
		{
			name:    "huge dimensions",
			url:     base + "/transform",
			fields:  map[string]string{"prompt": "cat", "drawing_rgba": "AAAAAA==", "width": "4611686018427387905", "height": "1"},
			status:  http.StatusBadRequest,
			errCode: "invalid_drawing",
		},
		{
			name:    "buffer smaller than canvas",
			url:     base + "/transform",
			fields:  map[string]string{"prompt": "cat", "drawing_rgba": base64.StdEncoding.EncodeToString(make([]byte, 3*2*4)), "width": "3", "height": "2"},
			status:  http.StatusBadRequest,
			errCode: "invalid_drawing",
		},
		{
			name:    "background fetch failure",
			url:     base + "/transform",
			fields:  map[string]string{"prompt": "cat", "drawing_rgba": rgbaField(), "width": "6", "height": "4", "background_url": missing.URL + "/bg.png"},
			status:  http.StatusBadGateway,
			errCode: "background_fetch_failed",
		},
		{
			name:    "bad include flag",
			url:     base + "/transform",
			fields:  map[string]string{"prompt": "cat", "drawing_rgba": rgbaField(), "width": "6", "height": "4", "include_background": "maybe"},
			status:  http.StatusBadRequest,
			errCode: "invalid_form",
		},
		{
			name:    "unknown session",
			url:     ts.URL + "/v1/sessions/nope/transform",
			fields:  map[string]string{"prompt": "cat"},
			status:  http.StatusNotFound,
			errCode: "session_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postForm(t, tt.url, tt.fields)
			assert.Equal(t, tt.status, resp.StatusCode)

			e := decodeError(t, resp)
			assert.Equal(t, tt.errCode, e.Error)
		})
	}

	resp := postForm(t, base+"/transform", map[string]string{"prompt": ""})
	assert.Equal(t, "Please describe the picture", decodeError(t, resp).Message)
}

func TestExportPNG(t *testing.T) {
	ts := newTestServer(t)

	resp := postForm(t, ts.URL+"/v1/export-png", map[string]string{
		"drawing_rgba": rgbaField(),
		"width":        "6",
		"height":       "4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, strings.HasPrefix(body["image"], "data:image/png;base64,"))
	assert.True(t, strings.HasSuffix(body["filename"], ".png"))

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(body["image"], "data:image/png;base64,"))
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, testWidth, testHeight), img.Bounds())
}
