package strategy

import (
	"bytes"
	"io"
	"net/http"

	"github.com/unkn0wn-root/fieldsync"
)

// teeBody hands the caller the live body and keeps a copy. When the caller
// reaches EOF the copy is stored in the background; closing early discards it.
type teeBody struct {
	rc    io.ReadCloser
	buf   bytes.Buffer
	done  bool
	onEOF func()
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	if n > 0 {
		t.buf.Write(p[:n])
	}
	if err == io.EOF && !t.done {
		t.done = true
		t.onEOF()
	}
	return n, err
}

func (t *teeBody) Close() error { return t.rc.Close() }

func (e *Executor) captureOnEOF(req *http.Request, resp *http.Response, store func(fieldsync.Snapshot)) io.ReadCloser {
	t := &teeBody{rc: resp.Body}
	status, header := resp.StatusCode, resp.Header.Clone()
	t.onEOF = func() {
		snap := fieldsync.Snapshot{
			Method:     http.MethodGet,
			URL:        req.URL.String(),
			Status:     status,
			Header:     header,
			Body:       bytes.Clone(t.buf.Bytes()),
			CapturedAt: e.now(),
		}
		e.spawn(func() { store(snap) })
	}
	return t
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
