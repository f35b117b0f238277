package upstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spigotd/spigot/internal/model"
)

var (
	ssePrefix = []byte("data:")
	sseDone   = []byte("[DONE]")
)

// Stream reads server-sent completion chunks from an upstream response body.
// Chunks are surfaced strictly in arrival order; no buffering happens beyond
// framing one event at a time.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func newStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// Recv returns the next chunk. It returns io.EOF when the upstream signals
// completion with the [DONE] sentinel or closes the stream cleanly.
func (s *Stream) Recv() (*model.CompletionChunk, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			// Process a final unterminated line before surfacing EOF.
			if err == io.EOF && len(bytes.TrimSpace(line)) == 0 {
				return nil, io.EOF
			}
			if err != io.EOF {
				return nil, fmt.Errorf("read upstream stream: %w", err)
			}
		}

		data, ok := sseData(line)
		if !ok {
			// Blank keep-alive lines, comments, and event: framing.
			continue
		}
		if bytes.Equal(data, sseDone) {
			return nil, io.EOF
		}

		var chunk model.CompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, fmt.Errorf("decode upstream chunk: %w", err)
		}
		return &chunk, nil
	}
}

// Close releases the underlying response body. Safe to call after Recv has
// returned an error.
func (s *Stream) Close() error {
	return s.body.Close()
}

// sseData extracts the payload of a "data:" line, or reports false for any
// other SSE framing line.
func sseData(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, ssePrefix) {
		return nil, false
	}
	return bytes.TrimSpace(bytes.TrimPrefix(line, ssePrefix)), true
}
