package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// HeaderAuthorization carries the bearer token.
const HeaderAuthorization = "Authorization"

const bearerPrefix = "Bearer "

// ExtractBearerToken returns the token from an Authorization header value,
// or "" when the value is not a bearer credential. The scheme is matched
// case-insensitively.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}

// HTTPMiddleware returns middleware that admits requests meeting req. On
// success the identity is stored in the request context (see
// [IdentityFromContext]); on failure the request is answered with the
// error's HTTP status and a JSON body of the form
//
//	{"error": {"code": "AUTHZ_003", "message": "...", "details": {...}}}
//
// Example:
//
//	mux.Handle("GET /v1/projects",
//	    auth.HTTPMiddleware(gate, auth.RequirePermissions("read:projects"))(projects))
func HTTPMiddleware(gate *Gatekeeper, req AccessRequirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))

			identity, err := gate.AuthenticateAndAuthorize(ctx, token, req)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			if identity != nil {
				ctx = ContextWithIdentity(ctx, identity)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Protect wraps a single handler with req.
func Protect(gate *Gatekeeper, req AccessRequirement, handler http.Handler) http.Handler {
	return HTTPMiddleware(gate, req)(handler)
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError writes err as a JSON error response. Errors outside the
// errors package are reported as internal errors without their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e := sserr.FromError(err)
	status := e.HTTPStatus()

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	if sserr.IsRetryable(e) {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := errorBody{Error: errorPayload{
		Code:    e.Code.String(),
		Message: e.Message,
		Details: e.Details,
	}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.WarnContext(r.Context(), "auth: failed to write error response", "error", err)
	}
}
