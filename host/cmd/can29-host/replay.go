package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"can29/host/capture"
)

// replay prints every event of a capture file.
func replay(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := capture.NewReader(f)
	count := 0
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintln(w, formatEvent(event))
		count++
	}
	fmt.Fprintf(w, "%d events\n", count)
	return nil
}

func formatEvent(e capture.Event) string {
	ts := e.Timestamp.Format("15:04:05.000000")
	switch e.Kind {
	case capture.KindFrame:
		line := fmt.Sprintf("%s %-3s %s", ts, e.Direction, e.Frame.Frame())
		if e.Direction == capture.DirectionIn {
			line += " -> " + e.Route.String()
		}
		return line
	case capture.KindFrameError:
		return fmt.Sprintf("%s %-3s error: %s (% x)", ts, e.Direction, e.Error, e.Raw)
	case capture.KindLinkState:
		line := fmt.Sprintf("%s link %s -> %s", ts, e.Link.From, e.Link.To)
		if e.Link.Reason != "" {
			line += ": " + e.Link.Reason
		}
		return line
	case capture.KindTimeout:
		return fmt.Sprintf("%s timeout %s: %s", ts, e.Frame.Frame(), e.Error)
	default:
		return fmt.Sprintf("%s %s", ts, e.Kind)
	}
}
