package httptransport

import (
	"bufio"
	"context"
	"net/http"
	"strings"

	"github.com/fathomlabs/agentcore/internal/backoff"
	"github.com/fathomlabs/agentcore/internal/coreerrors"
)

// StreamEvent is one parsed server-sent-events frame.
type StreamEvent struct {
	Event string // the `event:` line, empty if the frame omitted it
	Data  string // the concatenation of every `data:` line, newline-joined
}

// Stream opens a streaming request and returns a channel of parsed frames
// in arrival order. The channel is closed when the stream ends (cleanly or
// on error); a terminal error, if any, is delivered as the final value via
// the returned error channel semantics: callers drain events until the
// events channel closes, then check streamErr.
func (t *Transport) Stream(ctx context.Context, req Request) (<-chan StreamEvent, <-chan error, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, nil, coreerrors.NewConfigurationError("failed to encode request body", err)
	}

	var resp *rawStreamResp
	var lastErr error
	for attempt := 1; attempt <= t.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, coreerrors.NewConnectionError("context cancelled before stream open", err)
		}
		resp, lastErr = t.openStream(ctx, req, body)
		if lastErr == nil {
			break
		}
		if !coreerrors.IsRetryable(lastErr) || attempt > t.maxRetries {
			return nil, nil, lastErr
		}
		delay := t.nextDelay(attempt, nil)
		if sleepErr := backoff.SleepWithContext(ctx, delay); sleepErr != nil {
			return nil, nil, coreerrors.NewConnectionError("context cancelled while waiting to retry stream open", sleepErr)
		}
	}
	if lastErr != nil {
		return nil, nil, lastErr
	}

	events := make(chan StreamEvent)
	errs := make(chan error, 1)
	go demux(ctx, resp, events, errs)
	return events, errs, nil
}

type rawStreamResp struct {
	body   *http.Response
	status int
}

func (t *Transport) openStream(ctx context.Context, req Request, body []byte) (*rawStreamResp, error) {
	var bodyReader *strings.Reader
	if body != nil {
		bodyReader = strings.NewReader(string(body))
	} else {
		bodyReader = strings.NewReader("")
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, coreerrors.NewConnectionError("failed to build stream request", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, coreerrors.NewConnectionError("transport I/O failure opening stream", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet := readSnippet(resp)
		statusErr := classifyStatus(resp.StatusCode, snippet)
		if rl, ok := statusErr.(*coreerrors.RateLimitError); ok {
			if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
				rl.RetryAfterSeconds = d.Seconds()
			}
		}
		return nil, statusErr
	}
	return &rawStreamResp{body: resp, status: resp.StatusCode}, nil
}

func readSnippet(resp *http.Response) []byte {
	buf := make([]byte, 2048)
	n, _ := resp.Body.Read(buf)
	return buf[:n]
}

// demux reads the SSE body, buffering by blank-line-delimited frames, and
// emits one StreamEvent per frame. On a connection drop mid-stream it
// reports a StreamingError via errs carrying whatever bytes were already
// delivered; per §4.1 this is never retryable — the caller decides whether
// to restart the whole request.
func demux(ctx context.Context, resp *rawStreamResp, events chan<- StreamEvent, errs chan<- error) {
	defer close(events)
	defer resp.body.Body.Close()

	scanner := bufio.NewScanner(resp.body.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var eventName strings.Builder
	var dataLines []string
	var bytesReceived int64
	var framesDelivered int

	flush := func() bool {
		if eventName.Len() == 0 && len(dataLines) == 0 {
			return true
		}
		ev := StreamEvent{Event: eventName.String(), Data: strings.Join(dataLines, "\n")}
		eventName.Reset()
		dataLines = dataLines[:0]
		select {
		case events <- ev:
			framesDelivered++
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		bytesReceived += int64(len(line)) + 1

		if line == "" {
			if !flush() {
				errs <- coreerrors.NewStreamingError("stream cancelled by caller", "", bytesReceived, ctx.Err())
				return
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive, ignored
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		if framesDelivered > 0 {
			errs <- coreerrors.NewStreamingError("connection dropped mid-stream", "", bytesReceived, err)
		} else {
			errs <- coreerrors.NewConnectionError("connection dropped before any frame was delivered", err)
		}
		return
	}
	errs <- nil
}
