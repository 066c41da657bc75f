package fieldsync

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// CacheStatusHeader is set on every response served by the strategy executor.
const CacheStatusHeader = "X-Fieldsync-Cache"

// Snapshot is a stored HTTP response. It is immutable once written; a newer
// response for the same key replaces it whole.
type Snapshot struct {
	Method     string      `msgpack:"m" json:"method" cbor:"m"`
	URL        string      `msgpack:"u" json:"url" cbor:"u"`
	Status     int         `msgpack:"s" json:"status" cbor:"s"`
	Header     http.Header `msgpack:"h" json:"header" cbor:"h"`
	Body       []byte      `msgpack:"b" json:"body" cbor:"b"`
	CapturedAt time.Time   `msgpack:"t" json:"captured_at" cbor:"t"`
}

// Cacheable reports whether the snapshot may be written: a GET answered with a
// complete 2xx response.
func (s Snapshot) Cacheable() bool {
	if s.Method != "" && s.Method != http.MethodGet {
		return false
	}
	return s.Status >= 200 && s.Status < 300 && s.Status != http.StatusPartialContent
}

// ContentType returns the stored Content-Type header.
func (s Snapshot) ContentType() string { return s.Header.Get("Content-Type") }

// Capture reads resp fully into a Snapshot and replaces resp.Body with an
// equivalent reader, so the caller can still hand resp on.
func Capture(req *http.Request, resp *http.Response, now time.Time) (Snapshot, error) {
	var body []byte
	if resp.Body != nil {
		b, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return Snapshot{}, fmt.Errorf("fieldsync: read response body: %w", err)
		}
		body = b
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	method := http.MethodGet
	u := ""
	if req != nil {
		if req.Method != "" {
			method = req.Method
		}
		if req.URL != nil {
			u = req.URL.String()
		}
	}
	return Snapshot{
		Method:     method,
		URL:        u,
		Status:     resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		CapturedAt: now,
	}, nil
}

// Response rebuilds an *http.Response for req. Each call gets its own body reader.
func (s Snapshot) Response(req *http.Request) *http.Response {
	h := s.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Length", strconv.Itoa(len(s.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.Status, http.StatusText(s.Status)),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}
