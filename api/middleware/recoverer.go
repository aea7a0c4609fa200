package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/loyalty-ledger/api/responses"
	pkgerrors "github.com/angelmondragon/loyalty-ledger/pkg/errors"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
)

// Recoverer converts a handler panic into an INTERNAL_ERROR envelope.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					recovered(logg, w, r, rec)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func recovered(logg *logger.Logger, w http.ResponseWriter, r *http.Request, rec any) {
	// net/http relies on this panic to abort the connection
	if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
		panic(rec)
	}
	cause, ok := rec.(error)
	if !ok {
		cause = fmt.Errorf("%v", rec)
	}
	ctx := r.Context()
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"method": r.Method, "path": r.URL.Path})
		logg.Error(ctx, "panic.recovered", cause)
	}
	responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeInternal, cause, "handler panicked"))
}
