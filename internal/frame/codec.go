// Package frame implements the length-prefixed JSON framing used on every
// engine<->plugin byte stream: a 4-byte big-endian length followed by that
// many bytes of UTF-8 JSON.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

// MaxPayload is the largest payload a frame may carry, in bytes.
const MaxPayload = 10 * 1024 * 1024 // 10 MiB

// ErrPayloadTooLarge is returned by Encode/Decode when a payload exceeds MaxPayload.
var ErrPayloadTooLarge = errors.New("frame: payload exceeds 10 MiB limit")

// ErrEmptyPayload is returned by Decode when a frame declares a zero length.
var ErrEmptyPayload = errors.New("frame: zero-length payload")

// ErrShortRead is returned by Decode when the stream ends before a declared
// frame is complete. Callers should treat it as end-of-stream, not as a
// malformed frame.
var ErrShortRead = errors.New("frame: stream ended before payload was complete")

// Encoder writes length-prefixed frames to an underlying stream. Its zero
// value is not usable; use NewEncoder. An Encoder is safe for concurrent
// use: writes from multiple goroutines are serialised so that one frame's
// bytes are never interleaved with another's.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame carrying payload. payload must already be a
// well-formed UTF-8 JSON value; Encode does not itself marshal it.
func (e *Encoder) Encode(payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := e.w.Write(payload)
	return err
}

// Decoder reads length-prefixed frames from an underlying stream. A
// Decoder is not safe for concurrent use; each stream should have at most
// one reader, matching the run-loop's single-threaded read discipline.
type Decoder struct {
	r io.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads exactly one frame and returns its payload bytes. It never
// blocks beyond completing the declared payload. A partial read of the
// 4-byte header or the payload surfaces as ErrShortRead (which does not
// wrap io.EOF), while a stream that ends before any header byte returns
// io.EOF, so callers can distinguish a clean stream close from a
// truncated frame.
func (d *Decoder) Decode() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrShortRead
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrEmptyPayload
	}
	if length > MaxPayload {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, ErrShortRead
	}
	return payload, nil
}
