package provider

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// readSSE scans a server-sent-event body and hands each data payload to
// decode. decode returns the chunk to emit (nil to skip) and whether the
// stream is finished.
func readSSE(ctx context.Context, body io.ReadCloser, ch chan<- *StreamChunk, decode func(data string) (*StreamChunk, bool)) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		chunk, done := decode(strings.TrimPrefix(line, "data: "))
		if chunk != nil {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if done {
			return
		}
	}
	select {
	case ch <- &StreamChunk{Done: true}:
	case <-ctx.Done():
	}
}
