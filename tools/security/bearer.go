package security

import (
	"net/http"
	"strings"
)

// HeaderToken reads "Authorization: Bearer <t>".
func HeaderToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// BearerToken is HeaderToken falling back to ?token=<t>.
func BearerToken(r *http.Request) string {
	if t := HeaderToken(r); t != "" {
		return t
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
