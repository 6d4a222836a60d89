package chat

import (
	"net/http"
	"strings"
)

// originChecker builds the upgrade-time cross-origin policy. An empty
// allow-list permits everything (dev default); requests without an Origin
// header are non-browser clients and pass.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSuffix(a, "/"), strings.TrimSuffix(origin, "/")) {
				return true
			}
		}
		return false
	}
}
