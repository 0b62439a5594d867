package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/skyhook-io/kubedash/internal/deploy"
	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
	"github.com/skyhook-io/kubedash/internal/rbac"
)

// Identity headers set by the authenticating proxy in front of the server
const (
	userHeader   = "X-Kubedash-User"
	groupsHeader = "X-Kubedash-Groups"
)

const deploymentsResource = "deployments"

func userFromRequest(r *http.Request) rbac.User {
	user := rbac.User{Name: strings.TrimSpace(r.Header.Get(userHeader))}
	if user.Name == "" {
		user.Name = deploy.AnonymousActor
	}
	for _, g := range strings.Split(r.Header.Get(groupsHeader), ",") {
		if g = strings.TrimSpace(g); g != "" {
			user.OIDCGroups = append(user.OIDCGroups, g)
		}
	}
	return user
}

func targetFromRequest(r *http.Request) deploy.Target {
	return deploy.Target{
		Cluster:   chi.URLParam(r, "cluster"),
		Namespace: chi.URLParam(r, "namespace"),
		Name:      chi.URLParam(r, "name"),
	}
}

// authorize checks verb on the request's deployment and writes a 403 when
// denied. On success it returns the target and a context carrying the actor.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, verb rbac.Verb) (deploy.Target, *http.Request, bool) {
	t := targetFromRequest(r)
	user := userFromRequest(r)

	if !s.authz.CanAccess(user, deploymentsResource, verb, t.Cluster, t.Namespace) {
		writeError(w, dasherrors.Forbidden(rbac.NoAccess(user.Name, verb, deploymentsResource, t.Namespace, t.Cluster)))
		return t, r, false
	}
	return t, r.WithContext(deploy.WithActor(r.Context(), user.Name)), true
}
