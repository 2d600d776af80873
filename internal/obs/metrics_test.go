package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                            "/",
		"/metrics":                    "/metrics",
		"/auth/v1/token":              "/auth/v1/token",
		"/auth/v1/user":               "/auth/v1/user",
		"/rest/v1/profiles":           "/rest/v1/:table",
		"/rest/v1/companies":          "/rest/v1/:table",
		"/rest/v1/profiles?id=eq.abc": "/rest/v1/:table",
		"/healthz":                    "/healthz",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
