package png_info_extractor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// 89 50 4E 47 0D 0A 1A 0A
const pngSignature = "\x89\x50\x4E\x47\x0D\x0A\x1A\x0A"

const (
	ihdrLength        = 13
	maxChunkLength    = 1 << 26
	parametersKeyword = "parameters"
)

var ErrNotPNG = errors.New("wrong PNG header")

// Each chunk is a big-endian uint32 length, a 4 byte type, the data and a CRC32.
type chunk struct {
	kind string
	data []byte
}

func readChunk(r io.Reader) (*chunk, error) {
	var header [8]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:4])
	if length > maxChunkLength {
		return nil, fmt.Errorf("chunk length %d too large", length)
	}

	c := &chunk{kind: string(header[4:8]), data: make([]byte, length)}

	if _, err := io.ReadFull(r, c.data); err != nil {
		return nil, err
	}

	// CRC is not verified.
	var crc [4]byte
	if _, err := io.ReadFull(r, crc[:]); err != nil {
		return nil, err
	}

	return c, nil
}

type extractorImpl struct {
	width, height int
	chunks        []*chunk
}

type Config struct {
	PngData []byte
}

func New(cfg Config) (Extractor, error) {
	if cfg.PngData == nil {
		return nil, errors.New("missing png data")
	}

	r := bytes.NewReader(cfg.PngData)

	signature := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, signature); err != nil || string(signature) != pngSignature {
		return nil, ErrNotPNG
	}

	e := &extractorImpl{}

	for {
		c, err := readChunk(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return nil, err
		}

		e.chunks = append(e.chunks, c)

		if c.kind == "IEND" {
			break
		}
	}

	if len(e.chunks) == 0 || e.chunks[0].kind != "IHDR" {
		return nil, errors.New("missing IHDR chunk")
	}

	if err := e.parseIHDR(e.chunks[0]); err != nil {
		return nil, err
	}

	return e, nil
}

func (e *extractorImpl) parseIHDR(c *chunk) error {
	if len(c.data) != ihdrLength {
		return fmt.Errorf("invalid IHDR length: got %d - expected %d", len(c.data), ihdrLength)
	}

	e.width = int(binary.BigEndian.Uint32(c.data[0:4]))
	e.height = int(binary.BigEndian.Uint32(c.data[4:8]))

	if e.width <= 0 || e.height <= 0 {
		return fmt.Errorf("invalid IHDR dimensions %dx%d", e.width, e.height)
	}

	return nil
}

// PNGInfo is the generation metadata a diffusion backend writes into the
// "parameters" text chunk of its output images.
type PNGInfo struct {
	Width          int
	Height         int
	Prompt         string
	NegativePrompt string
	Seed           int64
	HasSeed        bool
	Parameters     map[string]string
}

func (e *extractorImpl) ExtractDiffusionInfo() (*PNGInfo, error) {
	info := &PNGInfo{
		Width:      e.width,
		Height:     e.height,
		Parameters: map[string]string{},
	}

	for _, c := range e.chunks {
		if c.kind != "tEXt" {
			continue
		}

		keyword, text, found := strings.Cut(string(c.data), "\x00")
		if !found || keyword != parametersKeyword {
			continue
		}

		parseParameters(text, info)

		break
	}

	return info, nil
}

// parseParameters reads the layout
//
//	<prompt>
//	Negative prompt: <negative>
//	Steps: 50, Sampler: Euler a, Seed: 12, ...
func parseParameters(text string, info *PNGInfo) {
	lines := strings.Split(text, "\n")

	var promptLines []string

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "Negative prompt: "):
			info.NegativePrompt = strings.TrimPrefix(line, "Negative prompt: ")
		case i == len(lines)-1 && strings.HasPrefix(line, "Steps: "):
			parseSettingsLine(line, info)
		case info.NegativePrompt == "":
			promptLines = append(promptLines, line)
		}
	}

	info.Prompt = strings.Join(promptLines, "\n")
}

func parseSettingsLine(line string, info *PNGInfo) {
	for _, field := range strings.Split(line, ", ") {
		key, value, found := strings.Cut(field, ": ")
		if !found {
			continue
		}

		info.Parameters[key] = value

		if key == "Seed" {
			seed, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				info.Seed = seed
				info.HasSeed = true
			}
		}
	}
}
