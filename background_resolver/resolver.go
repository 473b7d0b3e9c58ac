package background_resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

type AspectPolicy int

const (
	// AspectPolicyClamp keeps the whole source when it is narrower than the
	// canvas aspect ratio and lets the resize stretch it.
	AspectPolicyClamp AspectPolicy = iota
	// AspectPolicyStrict refuses such sources with ErrIncompatibleAspectRatio.
	AspectPolicyStrict
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxBytes     = 20 << 20
)

type resolverImpl struct {
	width        int
	height       int
	policy       AspectPolicy
	maxBytes     int64
	httpClient   *http.Client
	allowPrivate bool
	logger       zerolog.Logger
}

type Config struct {
	Width  int
	Height int

	AspectPolicy AspectPolicy

	// HTTPClient overrides the fetch client. When nil a client with FetchTimeout
	// and the private network guard is built.
	HTTPClient        *http.Client
	FetchTimeout      time.Duration
	MaxBytes          int64
	AllowPrivateHosts bool

	Logger *zerolog.Logger
}

func New(cfg Config) (Resolver, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("missing canvas dimensions")
	}

	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}

	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "background_resolver").Logger()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.FetchTimeout, cfg.AllowPrivateHosts)
	}

	return &resolverImpl{
		width:        cfg.Width,
		height:       cfg.Height,
		policy:       cfg.AspectPolicy,
		maxBytes:     cfg.MaxBytes,
		httpClient:   httpClient,
		allowPrivate: cfg.AllowPrivateHosts,
		logger:       logger,
	}, nil
}

// Resolve picks the background source (upload first, then remote URL) and
// normalizes it to the canvas size. It returns nil when neither is supplied.
func (r *resolverImpl) Resolve(ctx context.Context, uploaded []byte, remoteURL string) (image.Image, error) {
	var source image.Image

	switch {
	case len(uploaded) > 0:
		img, err := decode(uploaded)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUndecodableUpload, err)
		}

		source = img
	case remoteURL != "":
		data, err := r.Fetch(ctx, remoteURL)
		if err != nil {
			return nil, err
		}

		img, err := decode(data)
		if err != nil {
			return nil, NewBackgroundFetchError(remoteURL, err)
		}

		source = img
	default:
		return nil, nil
	}

	r.logger.Debug().
		Int("source_width", source.Bounds().Dx()).
		Int("source_height", source.Bounds().Dy()).
		Msg("normalizing background")

	return r.Normalize(source)
}

// Normalize center-crops img horizontally to the canvas aspect ratio and resizes
// it to exactly the canvas size.
func (r *resolverImpl) Normalize(img image.Image) (image.Image, error) {
	bounds := img.Bounds()

	box, err := CropBox(bounds.Dx(), bounds.Dy(), r.width, r.height, r.policy)
	if err != nil {
		return nil, err
	}

	cropped := imaging.Crop(img, box.Add(bounds.Min))

	return imaging.Resize(cropped, r.width, r.height, imaging.CatmullRom), nil
}

// CropBox computes the symmetric horizontal crop that gives a sourceWidth x
// sourceHeight image the target aspect ratio.
func CropBox(sourceWidth, sourceHeight, targetWidth, targetHeight int, policy AspectPolicy) (image.Rectangle, error) {
	if sourceWidth <= 0 || sourceHeight <= 0 || targetWidth <= 0 || targetHeight <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: empty geometry", ErrIncompatibleAspectRatio)
	}

	expectedWidth := int(math.Round(float64(targetWidth) / float64(targetHeight) * float64(sourceHeight)))
	margin := int(math.Round(float64(sourceWidth-expectedWidth) / 2))

	if margin < 0 {
		if policy == AspectPolicyStrict {
			return image.Rectangle{}, fmt.Errorf("%w: source %dx%d is narrower than %d",
				ErrIncompatibleAspectRatio, sourceWidth, sourceHeight, expectedWidth)
		}

		margin = 0
	}

	box := image.Rect(margin, 0, sourceWidth-margin, sourceHeight)
	if box.Dx() <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: crop of %dx%d is empty", ErrIncompatibleAspectRatio, sourceWidth, sourceHeight)
	}

	return box, nil
}

// Fetch downloads rawURL. Every failure is reported as a BackgroundFetchError.
func (r *resolverImpl) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return nil, NewBackgroundFetchError(rawURL, fmt.Errorf("%w: %v", ErrUnsafeURL, err))
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, NewBackgroundFetchError(rawURL, fmt.Errorf("%w: scheme %q", ErrUnsafeURL, parsed.Scheme))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, NewBackgroundFetchError(rawURL, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", rawURL).Msg("background download failed")

		return nil, NewBackgroundFetchError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewBackgroundFetchError(rawURL, fmt.Errorf("unexpected status %s", resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, NewBackgroundFetchError(rawURL, err)
	}

	if int64(len(data)) > r.maxBytes {
		return nil, NewBackgroundFetchError(rawURL, fmt.Errorf("body exceeds %d bytes", r.maxBytes))
	}

	return data, nil
}

func decode(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// newHTTPClient builds the fetch client. Unless private hosts are allowed, the
// dialer refuses loopback, private and link-local addresses after resolution so
// redirects and DNS tricks cannot reach internal services.
func newHTTPClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}

	if !allowPrivate {
		dialer.Control = func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}

			ip := net.ParseIP(host)
			if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
				ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				return fmt.Errorf("%w: restricted address %s", ErrUnsafeURL, host)
			}

			return nil
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext

	return &http.Client{Timeout: timeout, Transport: transport}
}
