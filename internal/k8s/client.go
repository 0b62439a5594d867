package k8s

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"k8s.io/klog/v2"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// InClusterName is the cluster name used when running inside a pod.
const InClusterName = "in-cluster"

// InitOptions configures the cluster registry
type InitOptions struct {
	KubeconfigPath string
	KubeconfigDirs []string // Directories containing kubeconfig files
	InCluster      bool     // Use the pod's service account, skipping kubeconfig
}

// Cluster holds the clients for one kubeconfig context
type Cluster struct {
	Name       string // kubeconfig context name
	Server     string
	Kubeconfig string // file defining the context, empty in-cluster
	Config     *rest.Config
	Clientset  kubernetes.Interface
	Dynamic    dynamic.Interface
}

// ContextInfo represents information about a kubeconfig context
type ContextInfo struct {
	Name      string `json:"name"`
	Cluster   string `json:"cluster"`
	User      string `json:"user"`
	Namespace string `json:"namespace"`
	IsDefault bool   `json:"isDefault"`
}

// Registry resolves cluster names to clients. Every kubeconfig context is a
// cluster; clients are built the first time a context is used.
type Registry struct {
	mu          sync.RWMutex
	clusters    map[string]*Cluster
	contexts    map[string]ContextInfo
	files       map[string]string // context -> kubeconfig file
	defaultName string
}

// NewRegistry loads kubeconfig contexts (or the in-cluster config) without
// connecting to any cluster.
func NewRegistry(opts InitOptions) (*Registry, error) {
	r := &Registry{
		clusters: make(map[string]*Cluster),
		contexts: make(map[string]ContextInfo),
		files:    make(map[string]string),
	}

	if opts.InCluster {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load in-cluster config: %w", err)
		}
		if err := r.addConfig(InClusterName, "", config); err != nil {
			return nil, err
		}
		r.contexts[InClusterName] = ContextInfo{Name: InClusterName, Cluster: InClusterName, User: "service-account", IsDefault: true}
		r.defaultName = InClusterName
		return r, nil
	}

	var paths []string
	if len(opts.KubeconfigDirs) > 0 {
		configs, err := discoverKubeconfigs(opts.KubeconfigDirs)
		if err != nil {
			return nil, fmt.Errorf("failed to discover kubeconfigs: %w", err)
		}
		if len(configs) == 0 {
			return nil, fmt.Errorf("no valid kubeconfig files found in directories: %v", opts.KubeconfigDirs)
		}
		klog.Infof("Discovered %d kubeconfig files from %d directories", len(configs), len(opts.KubeconfigDirs))
		paths = configs
	} else {
		kubeconfig := opts.KubeconfigPath
		if kubeconfig == "" {
			kubeconfig = os.Getenv("KUBECONFIG")
		}
		if kubeconfig == "" {
			if home := homedir.HomeDir(); home != "" {
				kubeconfig = filepath.Join(home, ".kube", "config")
			}
		}
		paths = []string{kubeconfig}
	}

	// first file wins for duplicate context names, matching clientcmd precedence
	for _, path := range paths {
		raw, err := clientcmd.LoadFromFile(path)
		if err != nil {
			klog.Warningf("Skipping kubeconfig %s: %v", path, err)
			continue
		}
		if r.defaultName == "" && raw.CurrentContext != "" {
			r.defaultName = raw.CurrentContext
		}
		for name, ctx := range raw.Contexts {
			if _, seen := r.files[name]; seen {
				continue
			}
			r.files[name] = path
			r.contexts[name] = ContextInfo{
				Name:      name,
				Cluster:   ctx.Cluster,
				User:      ctx.AuthInfo,
				Namespace: ctx.Namespace,
			}
		}
	}
	if len(r.contexts) == 0 {
		return nil, fmt.Errorf("no kubeconfig contexts found in %v", paths)
	}
	if _, ok := r.contexts[r.defaultName]; !ok {
		r.defaultName = r.sortedNames()[0]
	}
	info := r.contexts[r.defaultName]
	info.IsDefault = true
	r.contexts[r.defaultName] = info

	return r, nil
}

// NewStaticRegistry builds a registry from prebuilt clusters. The first
// cluster is the default.
func NewStaticRegistry(clusters ...*Cluster) *Registry {
	r := &Registry{
		clusters: make(map[string]*Cluster),
		contexts: make(map[string]ContextInfo),
		files:    make(map[string]string),
	}
	for i, c := range clusters {
		r.clusters[c.Name] = c
		r.contexts[c.Name] = ContextInfo{Name: c.Name, Cluster: c.Name, IsDefault: i == 0}
		if i == 0 {
			r.defaultName = c.Name
		}
	}
	return r
}

// Default returns the name used when a request names no cluster.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Get returns the clients for a cluster, building them on first use. An
// empty name selects the default cluster.
func (r *Registry) Get(name string) (*Cluster, error) {
	if name == "" {
		name = r.Default()
		if name == "" {
			return nil, dasherrors.K8sClientNotInitialized()
		}
	}

	r.mu.RLock()
	c, ok := r.clusters[name]
	_, known := r.contexts[name]
	file := r.files[name]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}
	if !known {
		return nil, dasherrors.UnknownCluster(name)
	}

	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: file}
	configOverrides := &clientcmd.ConfigOverrides{CurrentContext: name}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)

	config, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, dasherrors.Wrap(dasherrors.ErrK8sClusterUnreachable,
			fmt.Sprintf("failed to build config for context %q", name), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clusters[name]; ok {
		return c, nil
	}
	if err := r.addConfig(name, file, config); err != nil {
		return nil, err
	}
	klog.V(2).Infof("Initialized clients for context %s (%s)", name, config.Host)
	return r.clusters[name], nil
}

// addConfig creates clients for a rest config. Caller holds mu or owns r.
func (r *Registry) addConfig(name, file string, config *rest.Config) error {
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return fmt.Errorf("failed to create k8s client for context %q: %w", name, err)
	}
	dynamicClient, err := dynamic.NewForConfig(config)
	if err != nil {
		return fmt.Errorf("failed to create dynamic client for context %q: %w", name, err)
	}
	r.clusters[name] = &Cluster{
		Name:       name,
		Server:     config.Host,
		Kubeconfig: file,
		Config:     config,
		Clientset:  clientset,
		Dynamic:    dynamicClient,
	}
	return nil
}

// List returns all known contexts sorted by name.
func (r *Registry) List() []ContextInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ContextInfo, 0, len(r.contexts))
	for _, name := range r.sortedNames() {
		result = append(result, r.contexts[name])
	}
	return result
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.contexts))
	for name := range r.contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// discoverKubeconfigs scans directories for valid kubeconfig files
func discoverKubeconfigs(dirs []string) ([]string, error) {
	var configs []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			klog.Warningf("Cannot read kubeconfig directory %s: %v", dir, err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			path := filepath.Join(dir, name)
			if isValidKubeconfig(path) {
				configs = append(configs, path)
				klog.V(2).Infof("Found kubeconfig: %s", path)
			} else {
				klog.V(2).Infof("Skipping invalid kubeconfig: %s", path)
			}
		}
	}
	return configs, nil
}

// isValidKubeconfig checks if a file is a valid kubeconfig
func isValidKubeconfig(path string) bool {
	config, err := clientcmd.LoadFromFile(path)
	if err != nil {
		return false
	}
	return len(config.Contexts) > 0 || len(config.Clusters) > 0
}
