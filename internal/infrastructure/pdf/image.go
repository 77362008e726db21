package pdf

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"go.uber.org/multierr"
)

// decoder is one attempt at turning raw bytes into an image.
type decoder struct {
	name   string
	decode func([]byte) (image.Image, error)
}

// signatureCodecs are tried in order; the first success wins.
var signatureCodecs = []decoder{
	{"png", func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) }},
	{"jpeg", func(b []byte) (image.Image, error) { return jpeg.Decode(bytes.NewReader(b)) }},
}

// ErrUndecodable is returned when no codec accepts a signature payload.
var ErrUndecodable = errors.New("signature image could not be decoded")

// payloadBytes strips an optional data URL prefix and base64-decodes the rest.
func payloadBytes(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		payload = payload[comma+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	return raw, nil
}

// decodedImage is a signature normalised to PNG for embedding.
type decodedImage struct {
	png    []byte
	width  float64
	height float64
	codec  string
}

// decodeSignature tries each codec and re-encodes the result as a plain PNG.
func decodeSignature(payload string) (*decodedImage, error) {
	raw, err := payloadBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	var errs error
	for _, c := range signatureCodecs {
		img, err := c.decode(raw)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		bounds := img.Bounds()
		if bounds.Dx() == 0 || bounds.Dy() == 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s: empty image", c.name))
			continue
		}
		// gofpdf only embeds 8-bit PNGs, so 16-bit sources are flattened first.
		flat := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(flat, flat.Bounds(), img, bounds.Min, draw.Src)

		var buf bytes.Buffer
		if err := png.Encode(&buf, flat); err != nil {
			return nil, fmt.Errorf("failed to re-encode signature: %w", err)
		}
		return &decodedImage{
			png:    buf.Bytes(),
			width:  float64(bounds.Dx()),
			height: float64(bounds.Dy()),
			codec:  c.name,
		}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUndecodable, errs)
}

// fitBox scales w x h into the box preserving aspect ratio and centres it.
func fitBox(w, h, boxW, boxH float64) (x, y, outW, outH float64) {
	scale := boxW / w
	if s := boxH / h; s < scale {
		scale = s
	}
	outW, outH = w*scale, h*scale
	return (boxW - outW) / 2, (boxH - outH) / 2, outW, outH
}
