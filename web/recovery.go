package web

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/jmcleod/clubhouse/guard"
)

var recoveryPage = template.Must(template.ParseFS(content, "templates/recovery.html"))

// recoveryView links the two recovery actions: TryAgain requests the same
// location again, Reload starts over from the home page.
type recoveryView struct {
	TryAgain string
	Reload   string
}

// RecoveryBoundary is the last-resort handler for panics in page
// handlers. It logs the panic and renders the static recovery screen.
// http.ErrAbortHandler is re-raised.
func RecoveryBoundary(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic while rendering page",
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				writeRecovery(w, r, http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeRecovery(w http.ResponseWriter, r *http.Request, status int) {
	view := recoveryView{TryAgain: r.URL.RequestURI(), Reload: guard.HomePath}
	var buf bytes.Buffer
	if err := recoveryPage.Execute(&buf, view); err != nil {
		http.Error(w, "Something went wrong.", status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
