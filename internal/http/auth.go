package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const UserIDKey contextKey = "userId"

const devUser = "dev-user"

// ExtractUser resolves the caller. A bearer token is checked against
// jwtSecret when one is configured and its subject becomes the user;
// otherwise the user set by the upstream auth proxy is used. With allowDev,
// requests without either run as dev-user.
func ExtractUser(logger *slog.Logger, jwtSecret string, allowDev bool) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string

			if auth := r.Header.Get("Authorization"); auth != "" && len(secret) > 0 {
				sub, err := bearerSubject(auth, secret)
				if err != nil {
					logger.Info("authentication failed: bad bearer token", "path", r.URL.Path, "error", err)
					respondError(w, "invalid token", http.StatusUnauthorized)
					return
				}
				userID = sub
			}

			// Traefik BasicAuth sets this header
			if userID == "" {
				userID = r.Header.Get("X-Auth-User")
			}

			// Also check common alternatives
			if userID == "" {
				userID = r.Header.Get("X-Forwarded-User")
			}
			if userID == "" {
				userID = r.Header.Get("Remote-User")
			}

			if userID == "" && allowDev {
				userID = devUser
				logger.Warn("no auth header, using dev user", "path", r.URL.Path)
			}

			if userID == "" {
				logger.Info("authentication failed: no user header found", "path", r.URL.Path)
				respondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			logger.Debug("authenticated request", "user", userID)

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerSubject validates an HS256 "Bearer <token>" header and returns its
// subject claim.
func bearerSubject(header string, secret []byte) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("invalid authorization header")
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}
