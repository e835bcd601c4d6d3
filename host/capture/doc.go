// Package capture records a machine-readable trace of everything that
// crosses a CAN29 link: raw frames in both directions, frames the scanner
// rejected, and link state changes.
//
// It is separate from operational logging (slog). Captures are what status
// bit layouts and checksum choices get validated against:
//
//	// console while developing
//	cfg.Capture = capture.NewSlogAdapter(slog.Default())
//
//	// CBOR file for later replay
//	fl, _ := capture.NewFileLogger("/var/log/can29/stage.cap")
//	cfg.Capture = capture.NewMultiLogger(capture.NewSlogAdapter(logger), fl)
//
// Files are a stream of CBOR-encoded Events with integer keys. Reader
// decodes them back.
package capture
