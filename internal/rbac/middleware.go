// Package rbac guards routes with the permissions granted to the actor's role.
package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/storekeep/storekeep/internal/platform/httpx"
	"github.com/storekeep/storekeep/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

type permissionSet map[string]struct{}

func newPermissionSet(perms []string) permissionSet {
	set := make(permissionSet, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

func (s permissionSet) any(required permissionSet) bool {
	for p := range required {
		if _, ok := s[p]; ok {
			return true
		}
	}
	return false
}

func (s permissionSet) all(required permissionSet) bool {
	for p := range required {
		if _, ok := s[p]; !ok {
			return false
		}
	}
	return true
}

// RequireAny ensures the current actor has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(newPermissionSet(perms), permissionSet.any)
}

// RequireAll ensures the current actor has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(newPermissionSet(perms), permissionSet.all)
}

func (m Middleware) require(required permissionSet, match func(permissionSet, permissionSet) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if !match(m.granted(actor), required) {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) granted(actor shared.Actor) permissionSet {
	if !actor.Role.Valid() {
		if m.Logger != nil {
			m.Logger.Warn("rbac unknown role", slog.Int64("actor_id", actor.ID), slog.String("role", string(actor.Role)))
		}
		return nil
	}
	return newPermissionSet(shared.RoleScopes(actor.Role))
}
