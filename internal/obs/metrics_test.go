package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/auth/login":                "/v1/auth/login",
		"/v1/admin/accounts":            "/v1/admin/accounts",
		"/v1/admin/accounts/abc":        "/v1/admin/accounts/:id",
		"/v1/admin/accounts/abc/events": "/v1/admin/accounts/:id/events",
		"/v1/admin/events?limit=10":     "/v1/admin/events",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
