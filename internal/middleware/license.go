package middleware

import (
	"log/slog"
	"net/http"

	apperrors "macrotool/internal/errors"
	"macrotool/internal/infrastructure"
	"macrotool/internal/license"
)

// RequireLicense gates a route on the startup entitlement. Denied requests
// get a 428 problem naming the feature and the rejection reason.
func RequireLicense(ent *license.Entitlement, feature license.Feature, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := ent.Require(feature); err != nil {
				infrastructure.WithError(logger, err).WarnContext(r.Context(), "feature blocked",
					slog.String("feature", string(feature)),
					slog.String("path", r.URL.Path),
				)
				errorHandler.HandleError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
