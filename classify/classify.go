// Package classify decides which caching strategy serves a request.
package classify

import (
	"net/http"
	"net/url"
	"strings"
)

type Kind uint8

const (
	NoIntercept Kind = iota
	APIMutation
	APIQuery
	Document
	StaticAsset
)

func (k Kind) String() string {
	switch k {
	case NoIntercept:
		return "no_intercept"
	case APIMutation:
		return "api_mutation"
	case APIQuery:
		return "api_query"
	case Document:
		return "document"
	case StaticAsset:
		return "static_asset"
	default:
		return "unknown"
	}
}

// Result is the verdict for one request. Cacheable is only meaningful for
// APIQuery; documents and static assets are always cacheable and the other
// kinds never are.
type Result struct {
	Kind      Kind
	Cacheable bool
}

const DefaultAPIPrefix = "/api"

// DefaultVolatile lists API paths whose responses must never be stored:
// identity/session, current organization, credit balance, subscription state.
var DefaultVolatile = []string{
	"/api/auth/me",
	"/api/auth/session",
	"/api/organizations/current",
	"/api/credits",
	"/api/subscriptions",
}

// Rules is a classifier. The zero value treats every request as same-origin
// and uses DefaultAPIPrefix and DefaultVolatile.
type Rules struct {
	// Origin is "scheme://host[:port]" of the application. Requests to any
	// other origin are not intercepted. Empty disables the check.
	Origin string
	// APIPrefix is the path prefix of the backend API.
	APIPrefix string
	// Volatile are API path prefixes that are never cached. nil => DefaultVolatile.
	Volatile []string
}

// Classify applies the rules in order:
//
//  1. cross-origin => NoIntercept
//  2. under the API prefix: non-GET => APIMutation; GET on a volatile path =>
//     APIQuery{Cacheable: false}; any other GET => APIQuery{Cacheable: true}
//  3. any other non-GET => NoIntercept
//  4. "/", "/index.html", "*.html" or an HTML Accept header => Document
//  5. anything else => StaticAsset
func (r Rules) Classify(req *http.Request) Result {
	if !r.sameOrigin(req) {
		return Result{Kind: NoIntercept}
	}

	p := req.URL.Path
	if p == "" {
		p = "/"
	}
	get := req.Method == "" || req.Method == http.MethodGet

	if underPrefix(p, r.apiPrefix()) {
		if !get {
			return Result{Kind: APIMutation}
		}
		return Result{Kind: APIQuery, Cacheable: !r.IsVolatile(p)}
	}
	if !get {
		return Result{Kind: NoIntercept}
	}
	if IsDocumentPath(p) || acceptsHTML(req.Header) {
		return Result{Kind: Document, Cacheable: true}
	}
	return Result{Kind: StaticAsset, Cacheable: true}
}

// IsAPIPath reports whether p is under the API prefix.
func (r Rules) IsAPIPath(p string) bool { return underPrefix(p, r.apiPrefix()) }

// IsVolatile reports whether the API path p is on the denylist.
func (r Rules) IsVolatile(p string) bool {
	list := r.Volatile
	if list == nil {
		list = DefaultVolatile
	}
	for _, v := range list {
		if underPrefix(p, v) {
			return true
		}
	}
	return false
}

// IsDocumentPath reports whether p names an HTML document.
func IsDocumentPath(p string) bool {
	return p == "/" || p == "/index.html" || strings.HasSuffix(strings.ToLower(p), ".html")
}

func (r Rules) apiPrefix() string {
	if r.APIPrefix == "" {
		return DefaultAPIPrefix
	}
	return strings.TrimSuffix(r.APIPrefix, "/")
}

func (r Rules) sameOrigin(req *http.Request) bool {
	if r.Origin == "" {
		return true
	}
	o, err := url.Parse(r.Origin)
	if err != nil {
		return false
	}
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	scheme := req.URL.Scheme
	if scheme == "" {
		scheme = o.Scheme
	}
	return strings.EqualFold(scheme, o.Scheme) && strings.EqualFold(host, o.Host)
}

// underPrefix matches whole path segments: "/api" covers "/api" and "/api/x"
// but not "/apis".
func underPrefix(p, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func acceptsHTML(h http.Header) bool {
	for _, v := range h.Values("Accept") {
		if strings.Contains(v, "text/html") {
			return true
		}
	}
	return false
}
