package mw

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func Recover(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic recovered",
					slog.String("rid", RID(r.Context())),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
				)
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": "internal_error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
