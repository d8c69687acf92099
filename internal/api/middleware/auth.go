package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth - проверка служебного токена для /api/v1
//
// Команды приходят от внутренних сервисов, поэтому достаточно одного общего токена.
// Пустой token отключает проверку (локальное развертывание).
// Сравнение constant-time.
//
// Использование:
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.BearerAuth(cfg.Security.APIToken))
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		expected := []byte(token)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="connector-worker"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
