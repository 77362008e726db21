package pdf

import (
	"time"

	"signflow/internal/config"
)

// Options controls field rendering and document output.
type Options struct {
	DefaultFontSize float64
	LineGap         float64
	Inset           float64
	BaselineOffset  float64
	DateLayout      string
	Compress        bool
	// Now stamps the output documents; tests pin it for stable bytes.
	Now func() time.Time
}

func NewOptions(cfg *config.Config) Options {
	return Options{
		DefaultFontSize: cfg.Signing.DefaultFontSize,
		LineGap:         cfg.Signing.LineGap,
		Inset:           cfg.Signing.Inset,
		BaselineOffset:  cfg.Signing.BaselineOffset,
		DateLayout:      cfg.Signing.DateLayout,
		Compress:        cfg.Signing.Compress,
		Now:             time.Now,
	}
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o Options) fontSize(size float64) float64 {
	if size > 0 {
		return size
	}
	if o.DefaultFontSize > 0 {
		return o.DefaultFontSize
	}
	return 12
}
