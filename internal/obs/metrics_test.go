package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/users/abc":                 "/v1/users/:id",
		"/v1/users/abc/roles":           "/v1/users/:id/roles",
		"/v1/roles/01J9ZQ":              "/v1/roles/:id",
		"/v1/roles/01J9ZQ/permissions":  "/v1/roles/:id/permissions",
		"/v1/tickets/tk-1":              "/v1/tickets/:id",
		"/v1/auth/signin":               "/v1/auth/signin",
		"/v1/users/abc?include=history": "/v1/users/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
