package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// ErrorWriter writes an error response. The server passes handler.WriteError.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Recover turns a panic in a later handler into the standard Internal error
// response. http.ErrAbortHandler is re-panicked so net/http can abort the
// connection as it intends.
func Recover(write ErrorWriter) func(http.Handler) http.Handler {
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

				LoggerFromContext(r.Context()).Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				write(w, r, fmt.Errorf("middleware: panic: %v", rec))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
