package color_codec

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidColorFormat = errors.New("invalid color format")

// channels splits a 3 or 6 digit hex color into three channel values.
// The 3-digit form is read one digit per channel, so "#eee" yields 14, 14, 14.
func channels(hex string) ([3]uint64, error) {
	var rgb [3]uint64

	value := strings.TrimPrefix(strings.TrimSpace(hex), "#")

	length := len(value)
	if length != 3 && length != 6 {
		return rgb, fmt.Errorf("%w: %q has %d digits, want 3 or 6", ErrInvalidColorFormat, hex, length)
	}

	step := length / 3

	for i := 0; i < 3; i++ {
		channel, err := strconv.ParseUint(value[i*step:(i+1)*step], 16, 64)
		if err != nil {
			return rgb, fmt.Errorf("%w: %q", ErrInvalidColorFormat, hex)
		}

		rgb[i] = channel
	}

	return rgb, nil
}

// ToRGBA converts a hex color and an opacity into an rgba() color string.
// The opacity is written as given; it is not clamped.
func ToRGBA(hex string, opacity float64) (string, error) {
	if math.IsNaN(opacity) || math.IsInf(opacity, 0) {
		return "", fmt.Errorf("%w: opacity %v is not finite", ErrInvalidColorFormat, opacity)
	}

	rgb, err := channels(hex)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("rgba(%d, %d, %d, %s)",
		rgb[0], rgb[1], rgb[2], strconv.FormatFloat(opacity, 'f', -1, 64)), nil
}

// Parse converts a hex color into a color.NRGBA. Unlike ToRGBA, short forms are
// expanded the way browsers do ("#eee" is "#eeeeee"), which is what the canvas
// widget paints for its background. Opacity is clamped to [0, 1].
func Parse(hex string, opacity float64) (color.NRGBA, error) {
	if math.IsNaN(opacity) || math.IsInf(opacity, 0) {
		return color.NRGBA{}, fmt.Errorf("%w: opacity %v is not finite", ErrInvalidColorFormat, opacity)
	}

	value := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(value) == 3 {
		value = string([]byte{value[0], value[0], value[1], value[1], value[2], value[2]})
	}

	if len(value) != 6 {
		return color.NRGBA{}, fmt.Errorf("%w: %q is neither 3 nor 6 digits", ErrInvalidColorFormat, hex)
	}

	rgb, err := channels(value)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColorFormat, hex)
	}

	alpha := math.Round(math.Min(math.Max(opacity, 0), 1) * 255)

	return color.NRGBA{R: uint8(rgb[0]), G: uint8(rgb[1]), B: uint8(rgb[2]), A: uint8(alpha)}, nil
}
