// Package payload generates the request and response buffers exchanged in
// each benchmark round trip. Both sides of a benchmark derive the same
// buffers from nothing but the payload size.
package payload

import (
	"bytes"
	"fmt"
)

var (
	requestPattern  = []byte("ping")
	responsePattern = []byte("pong")
)

// Kind identifies which buffer a received message matches.
type Kind int

const (
	Unknown Kind = iota
	Request
	Response
)

func (k Kind) String() string {
	switch k {
	case Request:
		return "request"
	case Response:
		return "response"
	default:
		return "unknown"
	}
}

// Generate returns the request and response buffers for size. The request
// repeats "ping" and the response repeats "pong", so size 4 yields exactly
// those words. A single-byte payload uses the distinguishing letters "i"
// and "o". Sizes below 1 return nil buffers.
func Generate(size int) (request, response []byte) {
	if size < 1 {
		return nil, nil
	}

	return fill(requestPattern, size), fill(responsePattern, size)
}

func fill(pattern []byte, size int) []byte {
	buf := make([]byte, size)

	if size == 1 {
		buf[0] = pattern[1]

		return buf
	}

	for i := range buf {
		buf[i] = pattern[i%len(pattern)]
	}

	return buf
}

// Pair holds both buffers for one payload size.
type Pair struct {
	Request  []byte
	Response []byte
}

// NewPair generates the Pair for size.
func NewPair(size int) (Pair, error) {
	if size < 1 {
		return Pair{}, fmt.Errorf("payload size must be positive, got %d", size)
	}

	req, resp := Generate(size)

	return Pair{Request: req, Response: resp}, nil
}

// Size returns the payload length.
func (p Pair) Size() int {
	return len(p.Request)
}

// Kind classifies msg against the pair.
func (p Pair) Kind(msg []byte) Kind {
	switch {
	case bytes.Equal(msg, p.Request):
		return Request
	case bytes.Equal(msg, p.Response):
		return Response
	default:
		return Unknown
	}
}

// Preview returns at most the first 16 bytes of p, for error messages.
func Preview(p []byte) []byte {
	const limit = 16
	if len(p) > limit {
		return p[:limit]
	}

	return p
}

// Reply returns the buffer that answers msg: the response for a request and
// the request for a response. It reports false for anything else.
func (p Pair) Reply(msg []byte) ([]byte, bool) {
	switch p.Kind(msg) {
	case Request:
		return p.Response, true
	case Response:
		return p.Request, true
	default:
		return nil, false
	}
}
