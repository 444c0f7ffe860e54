package htmx

import (
	"net/http"
	"strings"
)

func IsRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("HX-Request"), "true")
}

// Redirect sends the browser to target. HTMX requests get an HX-Redirect
// header so the whole page navigates instead of the swapped fragment.
func Redirect(w http.ResponseWriter, r *http.Request, target string, status int) {
	if IsRequest(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, status)
}
