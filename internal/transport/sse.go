package transport

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// SSEEvent is one server-sent event: an optional event name and the joined
// data payload.
type SSEEvent struct {
	Name string
	Data []byte
}

// SSEDecoder reads server-sent events off a streaming response body.
//
// Both streaming dialects the engine speaks are covered: OpenAI-style bare
// `data:` lines terminated by a `[DONE]` sentinel, and Anthropic-style
// `event:` + `data:` pairs.
type SSEDecoder struct {
	scanner *bufio.Scanner
}

// NewSSEDecoder wraps a response body. The buffer allows single events up to
// 1MB, which covers fragmented tool-call argument deltas.
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &SSEDecoder{scanner: scanner}
}

// Next returns the next event, or io.EOF when the stream ends (including the
// OpenAI `[DONE]` sentinel).
func (d *SSEDecoder) Next() (SSEEvent, error) {
	var ev SSEEvent
	var data [][]byte
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		switch {
		case len(bytes.TrimSpace(line)) == 0:
			// Blank line ends the event, if it carried any data.
			if len(data) > 0 {
				ev.Data = bytes.Join(data, []byte("\n"))
				if string(ev.Data) == "[DONE]" {
					return SSEEvent{}, io.EOF
				}
				return ev, nil
			}
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Name = strings.TrimSpace(string(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimPrefix(bytes.TrimSpace(line[len("data:"):]), []byte(" ")))
		case bytes.HasPrefix(line, []byte(":")):
			// Comment/heartbeat, skip.
		}
	}
	if err := d.scanner.Err(); err != nil {
		return SSEEvent{}, err
	}
	// Stream ended mid-event; surface what we have, then EOF.
	if len(data) > 0 {
		ev.Data = bytes.Join(data, []byte("\n"))
		if string(ev.Data) != "[DONE]" {
			return ev, nil
		}
	}
	return SSEEvent{}, io.EOF
}
