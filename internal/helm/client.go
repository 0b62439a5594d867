package helm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/storage/driver"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/klog/v2"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// DefaultMaxRevisions bounds release history when no limit is configured.
const DefaultMaxRevisions = 20

const rollbackTimeout = 300 * time.Second

// ConfigFactory builds the Helm action configuration for a namespace.
type ConfigFactory func(namespace string) (*action.Configuration, error)

// Client provides access to the Helm releases of one cluster
type Client struct {
	mu           sync.Mutex
	newConfig    ConfigFactory
	configs      map[string]*action.Configuration
	maxRevisions int
}

// NewClient creates a client for the given kubeconfig context. An empty
// kubeconfig uses the default loading rules; an empty context uses the
// kubeconfig's current context.
func NewClient(kubeconfig, kubeContext string, maxRevisions int) *Client {
	return NewClientWithConfig(kubeconfigFactory(kubeconfig, kubeContext), maxRevisions)
}

// NewClientWithConfig creates a client that builds action configurations
// with the given factory.
func NewClientWithConfig(factory ConfigFactory, maxRevisions int) *Client {
	if maxRevisions <= 0 {
		maxRevisions = DefaultMaxRevisions
	}
	return &Client{
		newConfig:    factory,
		configs:      make(map[string]*action.Configuration),
		maxRevisions: maxRevisions,
	}
}

func kubeconfigFactory(kubeconfig, kubeContext string) ConfigFactory {
	return func(namespace string) (*action.Configuration, error) {
		actionConfig := new(action.Configuration)

		configFlags := genericclioptions.NewConfigFlags(true)
		if kubeconfig != "" {
			configFlags.KubeConfig = &kubeconfig
		}
		if kubeContext != "" {
			configFlags.Context = &kubeContext
		}
		if namespace != "" {
			configFlags.Namespace = &namespace
		}

		if err := actionConfig.Init(configFlags, namespace, "secrets", klog.V(4).Infof); err != nil {
			return nil, fmt.Errorf("failed to initialize helm action config: %w", err)
		}
		return actionConfig, nil
	}
}

// getActionConfig returns the cached action configuration for a namespace
func (c *Client) getActionConfig(namespace string) (*action.Configuration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg, ok := c.configs[namespace]; ok {
		return cfg, nil
	}
	cfg, err := c.newConfig(namespace)
	if err != nil {
		return nil, dasherrors.Wrap(dasherrors.ErrHelmClientNotInit, "helm configuration unavailable", err)
	}
	c.configs[namespace] = cfg
	return cfg, nil
}

// History returns the newest revisions of a release, newest first, each
// enriched with the image it deployed. A release with no history yields an
// empty list.
func (c *Client) History(namespace, name string) ([]Revision, error) {
	actionConfig, err := c.getActionConfig(namespace)
	if err != nil {
		return nil, err
	}

	historyAction := action.NewHistory(actionConfig)
	historyAction.Max = c.maxRevisions

	releases, err := historyAction.Run(name)
	if err != nil {
		if errors.Is(err, driver.ErrReleaseNotFound) {
			klog.V(2).Infof("[helm] release %s not found in namespace %s, returning empty history", name, namespace)
			return []Revision{}, nil
		}
		return nil, dasherrors.Wrap(dasherrors.ErrHelmOperationFailed, "failed to get helm history", err)
	}

	sort.Slice(releases, func(i, j int) bool {
		return releases[i].Version > releases[j].Version
	})
	if len(releases) > c.maxRevisions {
		releases = releases[:c.maxRevisions]
	}

	result := make([]Revision, 0, len(releases))
	for _, rel := range releases {
		rev := toRevision(rel)
		rev.ImageVersion = imageVersion(rel.Config)
		result = append(result, rev)
	}
	return result, nil
}

// Values returns the image block of a revision's user-supplied values with
// the repository trimmed to the image name. A missing release or revision
// yields an empty map.
func (c *Client) Values(namespace, name string, revision int) (map[string]any, error) {
	actionConfig, err := c.getActionConfig(namespace)
	if err != nil {
		return nil, err
	}

	getValuesAction := action.NewGetValues(actionConfig)
	if revision > 0 {
		getValuesAction.Version = revision
	}

	values, err := getValuesAction.Run(name)
	if err != nil {
		if errors.Is(err, driver.ErrReleaseNotFound) {
			klog.V(2).Infof("[helm] values not found for %s/%s revision %d", namespace, name, revision)
			return map[string]any{}, nil
		}
		return nil, dasherrors.Wrap(dasherrors.ErrHelmOperationFailed, "failed to get helm values", err)
	}
	return filterImageValues(values), nil
}

// Rollback rolls a release back to revision, or to the previous revision
// when revision is zero.
func (c *Client) Rollback(namespace, name string, revision int) (*RollbackResult, error) {
	actionConfig, err := c.getActionConfig(namespace)
	if err != nil {
		return nil, err
	}

	rollbackAction := action.NewRollback(actionConfig)
	rollbackAction.Version = revision
	rollbackAction.Timeout = rollbackTimeout

	if err := rollbackAction.Run(name); err != nil {
		if errors.Is(err, driver.ErrReleaseNotFound) {
			return nil, dasherrors.HelmReleaseNotFound(namespace, name)
		}
		return nil, dasherrors.Wrap(dasherrors.ErrHelmOperationFailed, "rollback failed", err)
	}

	klog.Infof("[helm] rolled back release %s/%s (revision %d)", namespace, name, revision)
	return &RollbackResult{
		ReleaseName: name,
		Namespace:   namespace,
		Revision:    revision,
		Message:     fmt.Sprintf("Rollback of release %s in namespace %s was successful", name, namespace),
	}, nil
}

// toRevision converts a helm release to a revision entry
func toRevision(rel *release.Release) Revision {
	rev := Revision{
		Revision: rel.Version,
	}
	if rel.Info != nil {
		rev.Status = rel.Info.Status.String()
		rev.Description = rel.Info.Description
		rev.Updated = rel.Info.LastDeployed.Time
	}
	if rel.Chart != nil && rel.Chart.Metadata != nil {
		rev.Chart = rel.Chart.Metadata.Name + "-" + rel.Chart.Metadata.Version
		rev.AppVersion = rel.Chart.Metadata.AppVersion
	}
	return rev
}

func imageVersion(values map[string]any) string {
	image, ok := values["image"].(map[string]any)
	if !ok {
		return ""
	}
	repo, ok := image["repository"].(string)
	if !ok {
		return ""
	}
	tag := "latest"
	if t, ok := image["tag"].(string); ok && t != "" {
		tag = t
	}
	return fmt.Sprintf("%s:%s", lastPathSegment(repo), tag)
}

func filterImageValues(values map[string]any) map[string]any {
	filtered := map[string]any{}
	image, ok := values["image"].(map[string]any)
	if !ok {
		return filtered
	}
	copied := make(map[string]any, len(image))
	for k, v := range image {
		copied[k] = v
	}
	if repo, ok := copied["repository"].(string); ok {
		copied["repository"] = lastPathSegment(repo)
	}
	filtered["image"] = copied
	return filtered
}

func lastPathSegment(repo string) string {
	parts := strings.Split(repo, "/")
	return parts[len(parts)-1]
}
