// Package rbac decides whether a user may perform a verb on a resource in a
// cluster and namespace, based on roles loaded from a YAML file.
//
// Role lists support "*" and negation ("!name"). Verbs follow a small
// hierarchy: patch grants restart, scale and edit; those three are
// independent of each other; update and patch imply one another.
package rbac

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

// Verb is an RBAC verb
type Verb string

const (
	VerbGet    Verb = "get"
	VerbList   Verb = "list"
	VerbWatch  Verb = "watch"
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
	VerbPatch  Verb = "patch"
	VerbDelete Verb = "delete"

	// Fine-grained deployment operations
	VerbRestart Verb = "restart"
	VerbScale   Verb = "scale"
	VerbEdit    Verb = "edit"

	// Helm rollback and Flux suspend/resume
	VerbRollback Verb = "rollback"
)

// Role grants verbs on resources in clusters and namespaces
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Clusters    []string `json:"clusters"`
	Resources   []string `json:"resources"`
	Namespaces  []string `json:"namespaces"`
	Verbs       []string `json:"verbs"`
}

// RoleMapping binds a role to users and OIDC groups
type RoleMapping struct {
	Name       string   `json:"name"`
	Users      []string `json:"users,omitempty"`
	OIDCGroups []string `json:"oidcGroups,omitempty"`
}

// Config is the roles file
type Config struct {
	Roles       []Role        `json:"roles"`
	RoleMapping []RoleMapping `json:"roleMapping"`
}

// User is the identity an access check runs for
type User struct {
	Name       string
	OIDCGroups []string
}

// Authorizer evaluates access checks against a Config.
type Authorizer struct {
	mu  sync.RWMutex
	cfg *Config
}

// New creates an authorizer. A nil config denies everything.
func New(cfg *Config) *Authorizer {
	return &Authorizer{cfg: cfg}
}

// AllowAll returns an authorizer that grants every verb to every user.
func AllowAll() *Authorizer {
	return New(&Config{
		Roles: []Role{{
			Name:       "admin",
			Clusters:   []string{"*"},
			Resources:  []string{"*"},
			Namespaces: []string{"*"},
			Verbs:      []string{"*"},
		}},
		RoleMapping: []RoleMapping{{Name: "admin", Users: []string{"*"}}},
	})
}

// LoadFile reads a roles file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse roles file %s: %w", path, err)
	}
	return cfg, nil
}

// Reload swaps the active config.
func (a *Authorizer) Reload(cfg *Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

// CanAccess checks whether user may perform verb on resource.
func (a *Authorizer) CanAccess(user User, resource string, verb Verb, cluster, namespace string) bool {
	for _, role := range a.UserRoles(user) {
		if match(role.Clusters, cluster) &&
			match(role.Namespaces, namespace) &&
			match(role.Resources, resource) &&
			matchVerb(role.Verbs, string(verb)) {
			klog.V(1).Infof("RBAC Check - User: %s, Groups: %v, Resource: %s, Verb: %s, Cluster: %s, Namespace: %s, Hit Role: %s",
				user.Name, user.OIDCGroups, resource, verb, cluster, namespace, role.Name)
			return true
		}
	}
	klog.V(1).Infof("RBAC Check - User: %s, Groups: %v, Resource: %s, Verb: %s, Cluster: %s, Namespace: %s, No Access",
		user.Name, user.OIDCGroups, resource, verb, cluster, namespace)
	return false
}

// UserRoles returns the roles mapped to a user directly or via groups.
func (a *Authorizer) UserRoles(user User) []Role {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.cfg == nil {
		return nil
	}
	seen := make(map[string]bool)
	var roles []Role
	add := func(name string) {
		if seen[name] {
			return
		}
		for _, r := range a.cfg.Roles {
			if r.Name == name {
				seen[name] = true
				roles = append(roles, r)
				return
			}
		}
	}
	for _, mapping := range a.cfg.RoleMapping {
		if slices.Contains(mapping.Users, "*") || slices.Contains(mapping.Users, user.Name) {
			add(mapping.Name)
		}
		for _, group := range user.OIDCGroups {
			if slices.Contains(mapping.OIDCGroups, group) {
				add(mapping.Name)
			}
		}
	}
	return roles
}

func match(list []string, val string) bool {
	for _, v := range list {
		if len(v) > 1 && strings.HasPrefix(v, "!") && v[1:] == val {
			return false
		}
		if v == "*" || v == val {
			return true
		}
	}
	return false
}

func matchVerb(list []string, verb string) bool {
	for _, v := range list {
		if len(v) > 1 && strings.HasPrefix(v, "!") && v[1:] == verb {
			return false
		}
	}
	for _, v := range list {
		if v == "*" || v == verb {
			return true
		}
	}

	switch Verb(verb) {
	case VerbRestart, VerbScale, VerbEdit:
		return slices.Contains(list, string(VerbPatch))
	case VerbPatch:
		return slices.Contains(list, string(VerbUpdate))
	case VerbUpdate:
		return slices.Contains(list, string(VerbPatch))
	}
	return false
}

// NoAccess formats the denial message.
func NoAccess(user string, verb Verb, resource, namespace, cluster string) string {
	if namespace == "" {
		return fmt.Sprintf("user %s does not have permission to %s %s on cluster %s",
			user, verb, resource, cluster)
	}
	return fmt.Sprintf("user %s does not have permission to %s %s in namespace %s on cluster %s",
		user, verb, resource, namespace, cluster)
}
