package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"englishcorner/internal/core"
)

// ErrStreamIdle is returned when a stream delivers nothing for StreamIdleTimeout.
var ErrStreamIdle = errors.New("stream idle timeout")

const maxLineSize = 1 << 20

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// Stream performs a streaming call, invoking onDelta for each non-empty
// content fragment in arrival order. It returns nil once the provider sends
// [DONE] or closes the body. The response body is released on every path,
// including cancellation of ctx.
func (c *Client) Stream(ctx context.Context, t Target, req *core.ChatRequest, onDelta func(string)) error {
	info := RequestInfo{Provider: t.name(), Endpoint: endpoint(t), Stream: true}
	start := time.Now()
	ctx = c.config.Hooks.start(ctx, info)

	chunks, status, err := c.stream(ctx, t, req, onDelta)
	c.config.Hooks.end(ctx, ResponseInfo{
		RequestInfo: info,
		StatusCode:  status,
		Duration:    time.Since(start),
		Chunks:      chunks,
		Err:         err,
	})
	return err
}

func (c *Client) stream(parent context.Context, t Target, req *core.ChatRequest, onDelta func(string)) (int, int, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	streamReq := *req
	streamReq.Stream = true
	resp, err := c.send(ctx, t, &streamReq)
	if err != nil {
		return 0, statusOf(err), err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var idled atomic.Bool
	var timer *time.Timer
	if idle := c.config.StreamIdleTimeout; idle > 0 {
		timer = time.AfterFunc(idle, func() {
			idled.Store(true)
			cancel()
		})
		defer timer.Stop()
	}

	chunks, err := readEvents(resp.Body, func() {
		if timer != nil {
			timer.Reset(c.config.StreamIdleTimeout)
		}
	}, onDelta)
	if err == nil {
		return chunks, resp.StatusCode, nil
	}

	switch {
	case parent.Err() != nil:
		return chunks, resp.StatusCode, parent.Err()
	case idled.Load():
		return chunks, resp.StatusCode, core.NewNetworkError(t.name(), ErrStreamIdle)
	default:
		return chunks, resp.StatusCode, core.NewNetworkError(t.name(), err)
	}
}

// readEvents scans SSE lines from r. Blank lines, comments and lines that are
// not "data:" payloads are skipped; payloads that do not parse are ignored.
func readEvents(r io.Reader, onLine func(), onDelta func(string)) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	chunks := 0
	for scanner.Scan() {
		onLine()
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data := bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.Equal(data, doneMarker) {
			return chunks, nil
		}
		if content := deltaContent(data); content != "" {
			chunks++
			onDelta(content)
		}
	}
	return chunks, scanner.Err()
}
