package fieldsync

import (
	"io"
	"net/http"
	"strings"
	"testing"

	c "github.com/unkn0wn-root/fieldsync/codec"
)

func (o Options) codecOrDefault() c.Codec[Snapshot] {
	return coalesce[c.Codec[Snapshot]](o.Codec, c.Msgpack[Snapshot]{})
}

func httpBody(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }

func readAll(t *testing.T, r *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
