package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"boardline/internal/engine"
	"boardline/internal/identity"
	"boardline/internal/repo"
)

type AuthConfig struct {
	Decoder identity.Decoder
	// JWTSecret enables POST /auth/dev/login when set.
	JWTSecret string
	// AllowSubjectHeader accepts X-Subject without a token. Development only.
	AllowSubjectHeader bool
	Logger             *slog.Logger
}

type Principal struct {
	Subject string
	Claims  identity.Claims
	Source  string
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Subject != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// actorFromRequest resolves the acting user, applying any open impersonation
// session of the authenticated administrator.
func actorFromRequest(ctx context.Context, e engine.Engine) (engine.Actor, error) {
	p, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return engine.Actor{}, authErr
	}
	actor, err := e.ResolveActor(ctx, p.Subject)
	if errors.Is(err, repo.ErrNotFound) {
		return engine.Actor{}, newAPIError(http.StatusUnauthorized, "profile_not_synced", "profile not synced; call POST /api/auth/profile first", nil)
	}
	if err != nil {
		return engine.Actor{}, handleError(err)
	}
	return actor, nil
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "openapi.yaml"):   true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			header := strings.TrimSpace(req.Header.Get("Authorization"))
			subjectHeader := strings.TrimSpace(req.Header.Get("X-Subject"))

			if header != "" {
				token, ok := bearerToken(header)
				if !ok || cfg.Decoder == nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				claims, err := cfg.Decoder.Decode(req.Context(), token)
				if err != nil {
					cfg.logger().Debug("token rejected", slog.String("error", err.Error()))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				ctx := withPrincipal(req.Context(), Principal{Subject: claims.Subject, Claims: claims, Source: "bearer"})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			if subjectHeader != "" && cfg.AllowSubjectHeader {
				cfg.logger().Warn("using X-Subject header without a token; development only", slog.String("subject", subjectHeader))
				ctx := withPrincipal(req.Context(), Principal{
					Subject: subjectHeader,
					Claims:  identity.Claims{Subject: subjectHeader},
					Source:  "subject_header",
				})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
