package protocol

import "bytes"

var startMarker = []byte{DLE, STX}

// EmitFunc receives each scanned frame in arrival order. raw is the wire
// bytes the result was produced from; err is a *FrameError when the bytes
// did not form a valid frame.
type EmitFunc func(f Frame, raw []byte, err error)

// Scanner turns a byte stream into frames. It resynchronises on the next
// DLE STX after any garbage, so one corrupt frame never stalls the stream.
// A Scanner is not safe for concurrent use.
type Scanner struct {
	codec   *Codec
	fifo    *FifoBuffer
	maxWire int
}

// NewScanner creates a scanner for codec (nil means DefaultCodec).
func NewScanner(codec *Codec) *Scanner {
	if codec == nil {
		codec = DefaultCodec
	}
	maxWire := codec.MaxWireSize()
	return &Scanner{
		codec:   codec,
		fifo:    NewFifoBuffer(2*maxWire + 1),
		maxWire: maxWire,
	}
}

// Feed appends stream bytes and emits every frame they complete.
func (s *Scanner) Feed(data []byte, emit EmitFunc) {
	for len(data) > 0 {
		n := s.fifo.Write(data)
		data = data[n:]
		s.drain(emit)
	}
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (s *Scanner) Buffered() int {
	return s.fifo.Available()
}

// Reset discards any partial frame.
func (s *Scanner) Reset() {
	s.fifo.Reset()
}

func (s *Scanner) drain(emit EmitFunc) {
	for {
		buf := s.fifo.Data()
		if len(buf) == 0 {
			return
		}

		start := bytes.Index(buf, startMarker)
		if start < 0 {
			// Keep a trailing DLE, it may be the first half of a start marker.
			drop := len(buf)
			if buf[len(buf)-1] == DLE {
				drop--
			}
			if drop > 0 {
				emit(Frame{}, clone(buf[:drop]), malformed("%d bytes outside a frame", drop))
				s.fifo.Pop(drop)
			}
			return
		}
		if start > 0 {
			emit(Frame{}, clone(buf[:start]), malformed("%d bytes before frame start", start))
			s.fifo.Pop(start)
			continue
		}

		end, restart := s.scanEnd(buf)
		switch {
		case end > 0:
			raw := clone(buf[:end])
			s.fifo.Pop(end)
			f, err := s.codec.Decode(raw)
			emit(f, raw, err)
		case restart > 0:
			emit(Frame{}, clone(buf[:restart]), malformed("frame interrupted at offset %d", restart))
			s.fifo.Pop(restart)
		case len(buf) > s.maxWire:
			emit(Frame{}, clone(buf[:s.maxWire]), malformed("no frame end within %d bytes", s.maxWire))
			s.fifo.Pop(MarkerSize)
		default:
			return
		}
	}
}

// scanEnd walks a buffer that begins with DLE STX. It returns the length of
// the frame including DLE ETX, or the offset at which scanning must restart
// because the frame was cut short, or (0, 0) when more bytes are needed.
func (s *Scanner) scanEnd(buf []byte) (end, restart int) {
	for i := MarkerSize; i < len(buf) && i <= s.maxWire; i++ {
		if buf[i] != DLE {
			continue
		}
		if i+1 >= len(buf) {
			return 0, 0
		}
		switch buf[i+1] {
		case DLE:
			i++
		case ETX:
			return i + 2, 0
		case STX:
			return 0, i
		default:
			return 0, i + 2
		}
	}
	return 0, 0
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
