package stable_diffusion_api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 10 * time.Minute

type apiImpl struct {
	host   string
	client *http.Client
	logger zerolog.Logger
}

type Config struct {
	Host       string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

func New(cfg Config) (StableDiffusionAPI, error) {
	if cfg.Host == "" {
		return nil, errors.New("missing host")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "stable_diffusion_api").Logger()
	}

	return &apiImpl{
		host:   strings.TrimRight(cfg.Host, "/"),
		client: client,
		logger: logger,
	}, nil
}

// APIError is returned when the backend answers with a non-2xx status.
type APIError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stable diffusion api %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

type ImageToImageRequest struct {
	InitImages        []string `json:"init_images"`
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	DenoisingStrength float64  `json:"denoising_strength"`
	CfgScale          float64  `json:"cfg_scale"`
	Steps             int      `json:"steps"`
	Seed              int64    `json:"seed"`
	SamplerName       string   `json:"sampler_name,omitempty"`
	BatchSize         int      `json:"batch_size"`
	NIter             int      `json:"n_iter"`
}

type jsonImageToImageResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

type jsonInfoResponse struct {
	Seed     int64   `json:"seed"`
	AllSeeds []int64 `json:"all_seeds"`
}

type ImageToImageResponse struct {
	// Images are base64 encoded PNGs.
	Images []string
	Seeds  []int64
}

func (api *apiImpl) ImageToImage(ctx context.Context, req *ImageToImageRequest) (*ImageToImageResponse, error) {
	if req == nil {
		return nil, errors.New("missing request")
	}

	if len(req.InitImages) == 0 {
		return nil, errors.New("missing init image")
	}

	respStruct := &jsonImageToImageResponse{}

	if err := api.do(ctx, http.MethodPost, "/sdapi/v1/img2img", req, respStruct); err != nil {
		return nil, err
	}

	if len(respStruct.Images) == 0 {
		return nil, errors.New("stable diffusion api returned no images")
	}

	resp := &ImageToImageResponse{Images: respStruct.Images}

	if respStruct.Info != "" {
		infoStruct := &jsonInfoResponse{}

		if err := json.Unmarshal([]byte(respStruct.Info), infoStruct); err != nil {
			api.logger.Warn().Err(err).Msg("unexpected img2img info payload")
		} else if len(infoStruct.AllSeeds) > 0 {
			resp.Seeds = infoStruct.AllSeeds
		} else {
			resp.Seeds = []int64{infoStruct.Seed}
		}
	}

	return resp, nil
}

type ProgressResponse struct {
	Progress    float64 `json:"progress"`
	EtaRelative float64 `json:"eta_relative"`
}

func (api *apiImpl) GetCurrentProgress(ctx context.Context) (*ProgressResponse, error) {
	respStruct := &ProgressResponse{}

	if err := api.do(ctx, http.MethodGet, "/sdapi/v1/progress", nil, respStruct); err != nil {
		return nil, err
	}

	return respStruct, nil
}

type Model struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
}

func (api *apiImpl) ListModels(ctx context.Context) ([]Model, error) {
	var models []Model

	if err := api.do(ctx, http.MethodGet, "/sdapi/v1/sd-models", nil, &models); err != nil {
		return nil, err
	}

	return models, nil
}

func (api *apiImpl) do(ctx context.Context, method, path string, payload, out any) error {
	var reqBody io.Reader

	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		reqBody = bytes.NewReader(jsonData)
	}

	request, err := http.NewRequestWithContext(ctx, method, api.host+path, reqBody)
	if err != nil {
		return err
	}

	if payload != nil {
		request.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}

	start := time.Now()

	response, err := api.client.Do(request)
	if err != nil {
		api.logger.Error().Err(err).Str("path", path).Msg("api request failed")

		return err
	}

	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	api.logger.Debug().
		Str("path", path).
		Int("status", response.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("api request")

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &APIError{Path: path, StatusCode: response.StatusCode, Body: truncate(string(body), 512)}
	}

	if err = json.Unmarshal(body, out); err != nil {
		api.logger.Error().Err(err).Str("path", path).Str("body", truncate(string(body), 512)).Msg("unexpected api response")

		return err
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
