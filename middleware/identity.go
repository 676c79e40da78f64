package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const (
	MemberIDKey   contextKey = "member_id"
	MemberNameKey contextKey = "member_name"

	// Set by the authentication gateway in front of this service.
	MemberIDHeader   = "X-Member-ID"
	MemberNameHeader = "X-Member-Name"
)

// MemberIdentity copies the already-authenticated member from the gateway
// headers into the request context. Requests without it pass through
// anonymous.
func MemberIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		memberID := strings.TrimSpace(r.Header.Get(MemberIDHeader))
		if memberID == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), MemberIDKey, memberID)
		if name := strings.TrimSpace(r.Header.Get(MemberNameHeader)); name != "" {
			ctx = context.WithValue(ctx, MemberNameKey, name)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireMember rejects anonymous requests with 401.
func RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAuthenticated(r.Context()) {
			slog.Info("rejecting anonymous request", "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "UNAUTHENTICATED",
				"message": "missing member identity",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetMemberID extracts the member id from context
func GetMemberID(ctx context.Context) (string, bool) {
	memberID, ok := ctx.Value(MemberIDKey).(string)
	return memberID, ok && memberID != ""
}

func GetMemberName(ctx context.Context) string {
	name, _ := ctx.Value(MemberNameKey).(string)
	return name
}

// IsAuthenticated checks if a member identity is present
func IsAuthenticated(ctx context.Context) bool {
	_, ok := GetMemberID(ctx)
	return ok
}
