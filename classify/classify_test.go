package classify

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify(t *testing.T) {
	r := Rules{Origin: "https://app.test"}

	cases := []struct {
		name   string
		method string
		url    string
		accept string
		want   Result
	}{
		{"cross origin get", http.MethodGet, "https://cdn.other/lib.js", "", Result{Kind: NoIntercept}},
		{"cross origin post", http.MethodPost, "https://api.other/api/x", "", Result{Kind: NoIntercept}},
		{"api post", http.MethodPost, "https://app.test/api/inspections", "", Result{Kind: APIMutation}},
		{"api put", http.MethodPut, "https://app.test/api/inspections/7", "", Result{Kind: APIMutation}},
		{"api delete", http.MethodDelete, "https://app.test/api/tenants/3", "", Result{Kind: APIMutation}},
		{"api get", http.MethodGet, "https://app.test/api/properties?page=2", "", Result{Kind: APIQuery, Cacheable: true}},
		{"api root", http.MethodGet, "https://app.test/api", "", Result{Kind: APIQuery, Cacheable: true}},
		{"volatile me", http.MethodGet, "https://app.test/api/auth/me", "", Result{Kind: APIQuery}},
		{"volatile credits sub", http.MethodGet, "https://app.test/api/credits/balance", "", Result{Kind: APIQuery}},
		{"volatile subscriptions", http.MethodGet, "https://app.test/api/subscriptions", "", Result{Kind: APIQuery}},
		{"not volatile lookalike", http.MethodGet, "https://app.test/api/creditsummary", "", Result{Kind: APIQuery, Cacheable: true}},
		{"apis is not api", http.MethodGet, "https://app.test/apis/x.js", "", Result{Kind: StaticAsset, Cacheable: true}},
		{"non-get page", http.MethodPost, "https://app.test/login", "", Result{Kind: NoIntercept}},
		{"root", http.MethodGet, "https://app.test/", "", Result{Kind: Document, Cacheable: true}},
		{"index", http.MethodGet, "https://app.test/index.html", "", Result{Kind: Document, Cacheable: true}},
		{"html file", http.MethodGet, "https://app.test/reports/view.HTML", "", Result{Kind: Document, Cacheable: true}},
		{"navigation", http.MethodGet, "https://app.test/inspections/42", "text/html,application/xhtml+xml", Result{Kind: Document, Cacheable: true}},
		{"script", http.MethodGet, "https://app.test/assets/app.js", "*/*", Result{Kind: StaticAsset, Cacheable: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.url, nil)
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			if got := r.Classify(req); got != tc.want {
				t.Fatalf("Classify(%s %s) = %+v want %+v", tc.method, tc.url, got, tc.want)
			}
		})
	}
}

func TestZeroRulesTreatsEverythingSameOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://anything.test/api/x", nil)
	if got := (Rules{}).Classify(req); got.Kind != APIQuery || !got.Cacheable {
		t.Fatalf("got %+v", got)
	}
}

func TestCustomPrefixAndDenylist(t *testing.T) {
	r := Rules{APIPrefix: "/v2/", Volatile: []string{"/v2/me"}}
	if got := r.Classify(httptest.NewRequest(http.MethodGet, "/v2/me", nil)); got != (Result{Kind: APIQuery}) {
		t.Fatalf("got %+v", got)
	}
	// custom list replaces the default one
	if got := r.Classify(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)); got.Kind != StaticAsset {
		t.Fatalf("got %+v", got)
	}
}
