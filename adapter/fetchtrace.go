package adapter

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"
)

// FetchTraceEntry records one HTTP request/response observed by Tracer, per
// the wire shape delivered as a fetch_request SSE event.
type FetchTraceEntry struct {
	ID                 string            `json:"id"`
	Timestamp          time.Time         `json:"timestamp"`
	Method             string            `json:"method"`
	URL                string            `json:"url"`
	RequestHeaders     map[string]string `json:"requestHeaders"`
	RequestBody        string            `json:"requestBody,omitempty"`
	ResponseStatus     int               `json:"responseStatus,omitempty"`
	ResponseStatusText string            `json:"responseStatusText,omitempty"`
	ResponseHeaders    map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody       string            `json:"responseBody,omitempty"`
	DurationMS         int64             `json:"duration"`
	Error              string            `json:"error,omitempty"`
	Category           string            `json:"category"`
}

const maxTracedBody = 1 << 20 // 1 MiB cap so a trace entry never balloons

// streaming content types whose response body must never be consumed by the
// tracer, since doing so would break streaming semantics for the real caller.
func isStreamingContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson")
}

// Tracer wraps an http.RoundTripper so every request produces a
// FetchTraceEntry delivered to Sink. It never alters observable request or
// response behavior: bodies are cloned (via io.TeeReader / re-wrapped
// io.ReadCloser), never consumed destructively.
type Tracer struct {
	Next     http.RoundTripper
	Sink     func(FetchTraceEntry)
	Category string // "auth" or "transport"
	NextID   func() string
}

// RoundTrip implements http.RoundTripper.
func (t *Tracer) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	entry := FetchTraceEntry{
		ID:             t.nextID(),
		Timestamp:      time.Now(),
		Method:         req.Method,
		URL:            req.URL.String(),
		RequestHeaders: headerToMap(req.Header),
		Category:       t.category(),
	}

	if req.Body != nil && req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			if b, err := io.ReadAll(io.LimitReader(body, maxTracedBody)); err == nil {
				entry.RequestBody = string(b)
			}
			_ = body.Close()
		}
	}

	start := time.Now()
	resp, err := next.RoundTrip(req)
	entry.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		entry.Error = err.Error()
		t.emit(entry)
		return resp, err
	}

	entry.ResponseStatus = resp.StatusCode
	entry.ResponseStatusText = resp.Status
	entry.ResponseHeaders = headerToMap(resp.Header)

	contentType := resp.Header.Get("Content-Type")
	if !isStreamingContentType(contentType) && resp.Body != nil {
		var buf bytes.Buffer
		tee := io.TeeReader(io.LimitReader(resp.Body, maxTracedBody), &buf)
		captured, _ := io.ReadAll(tee)
		entry.ResponseBody = string(captured)
		remainder, _ := io.ReadAll(resp.Body)
		resp.Body = &concatCloser{
			Reader: io.MultiReader(bytes.NewReader(captured), bytes.NewReader(remainder)),
			closer: resp.Body,
		}
	}

	t.emit(entry)
	return resp, nil
}

func (t *Tracer) emit(entry FetchTraceEntry) {
	if t.Sink != nil {
		t.Sink(entry)
	}
}

func (t *Tracer) category() string {
	if t.Category != "" {
		return t.Category
	}
	return "transport"
}

func (t *Tracer) nextID() string {
	if t.NextID != nil {
		return t.NextID()
	}
	return time.Now().Format("20060102T150405.000000000")
}

type concatCloser struct {
	io.Reader
	closer io.Closer
}

func (c *concatCloser) Close() error { return c.closer.Close() }

func headerToMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
