package api

import (
	"net/http"
	"strings"

	"towerplan/internal/auth"
)

// principal authenticates r. Bearer tokens come from the Authorization
// header or, for websocket clients that cannot set headers, the
// access_token query parameter. On failure it writes a 401 and returns false.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	tok := ""
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		tok = strings.TrimSpace(authz[len("Bearer "):])
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		tok = q
	}
	pr, err := s.Auth.Verify(tok)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="towerplan"`)
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return auth.Principal{}, false
	}
	return pr, true
}

// solver is principal plus the solver role check.
func (s *Server) solver(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	pr, ok := s.principal(w, r)
	if !ok {
		return pr, false
	}
	if !pr.CanSolve() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "solver role required", r.URL.Path)
		return pr, false
	}
	return pr, true
}
