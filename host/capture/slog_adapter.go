package capture

import (
	"context"
	"log/slog"
)

// SlogAdapter writes capture events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("dir", event.Direction.String()),
		slog.String("kind", event.Kind.String()),
	}

	switch {
	case event.Frame != nil:
		f := event.Frame
		attrs = append(attrs,
			slog.Int("src", int(f.Source)),
			slog.Int("dst", int(f.Destination)),
			slog.Int("dev", int(f.DeviceID)),
			slog.Int("class", int(f.Class)),
			slog.Int("cmd", int(f.Command)),
			slog.Int("len", len(f.Payload)),
		)
		if event.Route != RouteNone {
			attrs = append(attrs, slog.String("route", event.Route.String()))
		}
	case event.Link != nil:
		attrs = append(attrs,
			slog.String("from", event.Link.From),
			slog.String("to", event.Link.To),
		)
		if event.Link.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Link.Reason))
		}
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if len(event.Raw) > 0 && event.Frame == nil {
		attrs = append(attrs, slog.Int("raw_len", len(event.Raw)))
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "capture", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
