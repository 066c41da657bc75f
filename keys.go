package fieldsync

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// KeyOptions control request-key normalization.
type KeyOptions struct {
	// DropParams are query parameters removed before keying (cache busters).
	DropParams []string
	// VaryHeaders are request headers folded into the key, e.g. Accept-Language.
	VaryHeaders []string
}

// DefaultKeyOptions drop the usual cache-busting parameters and vary on nothing.
var DefaultKeyOptions = KeyOptions{
	DropParams: []string{"_", "_t", "_ts", "cb", "cachebust"},
}

// RequestKey returns the normalized key of req:
//
//	METHOD scheme://host/path?sorted-query [|header=value...]
//
// Query parameters are sorted by name (values keep their order) and fragments
// are dropped, so equivalent requests share a key.
func RequestKey(req *http.Request, o KeyOptions) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Host == "" && req.Host != "" {
		u.Host = strings.ToLower(req.Host)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = canonicalQuery(u.Query(), o.DropParams)

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(u.String())
	for _, h := range o.VaryHeaders {
		b.WriteString(" |")
		b.WriteString(strings.ToLower(h))
		b.WriteByte('=')
		b.WriteString(strings.Join(req.Header.Values(h), ","))
	}
	return b.String()
}

func canonicalQuery(q url.Values, drop []string) string {
	for _, p := range drop {
		q.Del(p)
	}
	if len(q) == 0 {
		return ""
	}
	names := make([]string, 0, len(q))
	for k := range q {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// KeyURL extracts the URL part of a key built by RequestKey.
func KeyURL(key string) string {
	_, rest, ok := strings.Cut(key, " ")
	if !ok {
		return ""
	}
	if i := strings.Index(rest, " |"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
