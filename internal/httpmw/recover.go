package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/log"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/xerrors"
)

// Recover catches handler panics, logs them with a stack, invokes onPanic
// (metrics hook), and serves a plain 500. http.ErrAbortHandler is re-raised
// so the server can abort the connection the normal way.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
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

				if onPanic != nil {
					onPanic()
				}

				err, ok := rec.(error)
				if !ok {
					err = xerrors.Newf("panic: %v", rec)
				}
				if L != nil {
					L.Error(r.Context(), err, "panic recovered in http handler",
						"url.path", r.URL.Path,
						"http.request.method", r.Method,
						"stack", string(debug.Stack()),
					)
				}

				http.Error(w, "internal server error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
