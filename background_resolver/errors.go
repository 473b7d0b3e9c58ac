package background_resolver

import (
	"errors"
	"fmt"
)

var (
	ErrBackgroundFetch         = errors.New("background fetch failed")
	ErrUndecodableUpload       = errors.New("uploaded background is not a decodable image")
	ErrIncompatibleAspectRatio = errors.New("background aspect ratio cannot be cropped to the canvas")
	ErrUnsafeURL               = errors.New("url is not allowed")
)

// BackgroundFetchError reports a failed download or decode of a remote background.
type BackgroundFetchError struct {
	URL string
	Err error
}

func NewBackgroundFetchError(url string, err error) *BackgroundFetchError {
	return &BackgroundFetchError{URL: url, Err: err}
}

func (e *BackgroundFetchError) Error() string {
	return fmt.Sprintf("fetching background %s: %v", e.URL, e.Err)
}

func (e *BackgroundFetchError) Unwrap() error {
	return e.Err
}

func (e *BackgroundFetchError) Is(err error) bool {
	if err == ErrBackgroundFetch {
		return true
	}

	_, ok := err.(*BackgroundFetchError)

	return ok
}
