package healthz

import (
	"io"
	"net/http"
)

// Healthz is a HTTP handler for the /healthz endpoint. It responds
// with 200 OK if all checks and dependencies succeed and with 500 otherwise.
func Healthz(w http.ResponseWriter, r *http.Request) {
	ok, info := HealthInfo(r.Context())
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusInternalServerError)
	}
	io.WriteString(w, info)
}
