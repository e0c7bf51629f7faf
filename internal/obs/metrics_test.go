package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/v1/credentials/01ABC":        "/v1/credentials/:id",
		"/v1/points/gate-1":            "/v1/points/:id",
		"/v1/points/gate-1/heartbeat":  "/v1/points/:id/heartbeat",
		"/v1/groups/grp-7":             "/v1/groups/:id",
		"/v1/access-log":               "/v1/access-log",
		"/v1/access-log?after=10":      "/v1/access-log",
		"/v1/points/gate-1/extra/deep": "/v1/points/gate-1/extra/deep",
		"/v1/authorize":                "/v1/authorize",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
