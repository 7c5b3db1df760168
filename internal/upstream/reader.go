// ABOUTME: Incremental parser for the upstream workflow SSE stream
// ABOUTME: Turns arbitrary byte chunks into typed text, heartbeat, done and malformed deltas

package upstream

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/tidwall/gjson"
)

// DeltaKind identifies what an upstream frame carried.
type DeltaKind int

const (
	// DeltaText carries an increment of assistant text.
	DeltaText DeltaKind = iota
	// DeltaHeartbeat is an SSE comment line used as a keep-alive.
	DeltaHeartbeat
	// DeltaDone marks the explicit end of the stream.
	DeltaDone
	// DeltaMalformed is a data payload with no recognizable shape.
	DeltaMalformed
)

// String returns a short name for logging.
func (k DeltaKind) String() string {
	switch k {
	case DeltaText:
		return "text"
	case DeltaHeartbeat:
		return "heartbeat"
	case DeltaDone:
		return "done"
	case DeltaMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Delta is one parsed upstream event.
type Delta struct {
	Kind DeltaKind
	Text string
	// Raw holds the payload of a malformed frame.
	Raw string
}

const doneMarker = "[DONE]"

// Reader parses SSE frames from an upstream response body.
// It is not safe for concurrent use.
type Reader struct {
	src       *bufio.Reader
	malformed int
	finished  bool
}

// NewReader wraps r. Partial lines are buffered across reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: bufio.NewReaderSize(r, 64*1024)}
}

// Malformed returns how many data frames have been dropped so far.
func (r *Reader) Malformed() int {
	return r.malformed
}

// Next returns the next delta. It returns io.EOF once the source is exhausted
// or after a done delta has been returned. Other errors come from the source.
func (r *Reader) Next() (Delta, error) {
	for {
		if r.finished {
			return Delta{}, io.EOF
		}

		line, err := r.src.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Delta{}, err
		}
		atEOF := err != nil

		if len(line) > 0 {
			if d, ok := r.parseLine(line); ok {
				if d.Kind == DeltaDone {
					r.finished = true
				}
				return d, nil
			}
		}

		if atEOF {
			r.finished = true
			return Delta{}, io.EOF
		}
	}
}

// parseLine interprets one line. ok is false when the line yields no delta.
func (r *Reader) parseLine(line []byte) (Delta, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return Delta{}, false
	}

	if line[0] == ':' {
		return Delta{Kind: DeltaHeartbeat}, true
	}

	payload, found := bytes.CutPrefix(line, []byte("data:"))
	if !found {
		// event:, id:, retry: and unknown fields carry nothing we use
		return Delta{}, false
	}
	payload = bytes.TrimPrefix(payload, []byte(" "))

	if string(payload) == doneMarker {
		return Delta{Kind: DeltaDone}, true
	}

	if text, ok := extractDelta(payload); ok {
		return Delta{Kind: DeltaText, Text: text}, true
	}

	r.malformed++
	return Delta{Kind: DeltaMalformed, Raw: string(payload)}, true
}

// extractDelta accepts {"type":"output_text.delta","delta":"..."} and the
// untyped {"delta":"..."}. Both reduce to a top-level string delta on an object.
func extractDelta(payload []byte) (string, bool) {
	if !gjson.ValidBytes(payload) {
		return "", false
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return "", false
	}

	delta := doc.Get("delta")
	if delta.Type != gjson.String {
		return "", false
	}
	return delta.String(), true
}
