// Package config holds kubedash settings. Values come from defaults, then
// environment variables, then command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/skyhook-io/kubedash/internal/helm"
	"github.com/skyhook-io/kubedash/internal/history"
	"github.com/skyhook-io/kubedash/internal/polling"
	"github.com/skyhook-io/kubedash/internal/rbac"
)

const (
	DefaultPort           = 9280
	DefaultServerURL      = "http://localhost:9280"
	DefaultRequestTimeout = 60 * time.Second
	DefaultHistoryMaxSize = 1000
)

// Config holds all application configuration
type Config struct {
	// Server
	Port           int
	AllowedOrigins []string
	RequestTimeout time.Duration
	RolesFile      string // empty grants every verb to every user

	// Kubernetes
	Kubeconfig     string
	KubeconfigDirs []string
	InCluster      bool

	// Helm
	HelmMaxRevisions int

	// Action history
	HistoryBackend string
	HistoryPath    string
	RedisURL       string
	HistoryMaxSize int

	// CLI
	ServerURL    string
	User         string
	Groups       []string
	Language     string
	PollInterval time.Duration
	Debounce     time.Duration
	Local        bool // run operations in-process instead of through ServerURL
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:             DefaultPort,
		AllowedOrigins:   []string{"*"},
		RequestTimeout:   DefaultRequestTimeout,
		HelmMaxRevisions: helm.DefaultMaxRevisions,
		HistoryBackend:   history.BackendMemory,
		HistoryPath:      defaultHistoryPath(),
		RedisURL:         "redis://localhost:6379/0",
		HistoryMaxSize:   DefaultHistoryMaxSize,
		ServerURL:        DefaultServerURL,
		Language:         "en",
		PollInterval:     polling.DefaultFastInterval,
		Debounce:         polling.DefaultDebounce,
	}
}

func defaultHistoryPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "kubedash-history.db"
	}
	return filepath.Join(homeDir, ".kubedash", "history.db")
}

// Load returns the defaults overridden by the environment.
func Load() *Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from KUBEDASH_* variables and HELM_MAX_REVISIONS.
// Malformed values are logged and ignored.
func (c *Config) ApplyEnv() {
	c.Port = getEnvInt("KUBEDASH_PORT", c.Port)
	c.AllowedOrigins = getEnvList("KUBEDASH_ALLOWED_ORIGINS", c.AllowedOrigins)
	c.RequestTimeout = getEnvDuration("KUBEDASH_REQUEST_TIMEOUT", c.RequestTimeout)
	c.RolesFile = getEnv("KUBEDASH_ROLES_FILE", c.RolesFile)

	c.Kubeconfig = getEnv("KUBEDASH_KUBECONFIG", c.Kubeconfig)
	c.KubeconfigDirs = getEnvList("KUBEDASH_KUBECONFIG_DIRS", c.KubeconfigDirs)
	c.InCluster = getEnvBool("KUBEDASH_IN_CLUSTER", c.InCluster)

	if v := os.Getenv("HELM_MAX_REVISIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HelmMaxRevisions = n
			klog.V(1).Infof("Helm max revisions set to %d", n)
		} else {
			klog.Warningf("Invalid HELM_MAX_REVISIONS value: %s, using %d", v, c.HelmMaxRevisions)
		}
	}

	c.HistoryBackend = getEnv("KUBEDASH_HISTORY_BACKEND", c.HistoryBackend)
	c.HistoryPath = getEnv("KUBEDASH_HISTORY_PATH", c.HistoryPath)
	c.RedisURL = getEnv("KUBEDASH_REDIS_URL", c.RedisURL)
	c.HistoryMaxSize = getEnvInt("KUBEDASH_HISTORY_MAX_SIZE", c.HistoryMaxSize)

	c.ServerURL = getEnv("KUBEDASH_SERVER", c.ServerURL)
	c.User = getEnv("KUBEDASH_USER", c.User)
	c.Groups = getEnvList("KUBEDASH_GROUPS", c.Groups)
	c.Language = getEnv("KUBEDASH_LANG", c.Language)
	c.PollInterval = getEnvDuration("KUBEDASH_POLL_INTERVAL", c.PollInterval)
	c.Debounce = getEnvDuration("KUBEDASH_DEBOUNCE", c.Debounce)
}

// BindServerFlags registers the flags of the serve command.
func (c *Config) BindServerFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "Server port")
	fs.StringSliceVar(&c.AllowedOrigins, "allowed-origins", c.AllowedOrigins, "CORS allowed origins")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "Timeout for non-streaming API requests")
	fs.StringVar(&c.RolesFile, "roles-file", c.RolesFile, "RBAC roles file (default: allow everything)")
	fs.StringVar(&c.HistoryBackend, "history-backend", c.HistoryBackend, "Action history backend: memory, sqlite or redis")
	fs.StringVar(&c.HistoryPath, "history-db", c.HistoryPath, "Path to the SQLite action history database")
	fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL for the redis history backend")
	fs.IntVar(&c.HistoryMaxSize, "history-max-size", c.HistoryMaxSize, "Maximum action records kept by memory and redis backends")
}

// BindClusterFlags registers the flags that locate clusters.
func (c *Config) BindClusterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Kubeconfig, "kubeconfig", c.Kubeconfig, "Path to kubeconfig file (default: ~/.kube/config)")
	fs.StringSliceVar(&c.KubeconfigDirs, "kubeconfig-dir", c.KubeconfigDirs, "Directories of kubeconfig files to load")
	fs.BoolVar(&c.InCluster, "in-cluster", c.InCluster, "Use the pod service account")
	fs.IntVar(&c.HelmMaxRevisions, "helm-max-revisions", c.HelmMaxRevisions, "Maximum Helm revisions listed per release")
}

// BindClientFlags registers the flags of the deploy commands.
func (c *Config) BindClientFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ServerURL, "server", c.ServerURL, "kubedash server URL")
	fs.StringVar(&c.User, "user", c.User, "User name sent to the server")
	fs.StringSliceVar(&c.Groups, "groups", c.Groups, "Groups sent to the server")
	fs.StringVar(&c.Language, "lang", c.Language, "Language for messages (en, zh)")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "Refresh interval after an action")
	fs.DurationVar(&c.Debounce, "debounce", c.Debounce, "How long a stable status must hold before polling stops")
	fs.BoolVar(&c.Local, "local", c.Local, "Run operations in-process against the kubeconfig instead of a server")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.HelmMaxRevisions <= 0 {
		return fmt.Errorf("helm max revisions must be positive, got %d", c.HelmMaxRevisions)
	}

	switch c.HistoryBackend {
	case history.BackendMemory:
	case history.BackendSQLite:
		if c.HistoryPath == "" {
			return fmt.Errorf("history-db is required for the sqlite history backend")
		}
	case history.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis-url is required for the redis history backend")
		}
	default:
		return fmt.Errorf("invalid history backend: %s (must be memory/sqlite/redis)", c.HistoryBackend)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %s", c.Debounce)
	}
	if !c.Local && c.ServerURL == "" {
		return fmt.Errorf("server URL is required unless --local is set")
	}
	return nil
}

// HistoryOptions returns the options for history.Open.
func (c *Config) HistoryOptions() history.Options {
	return history.Options{
		Backend:  c.HistoryBackend,
		Path:     c.HistoryPath,
		RedisURL: c.RedisURL,
		MaxSize:  c.HistoryMaxSize,
	}
}

// Authorizer builds the RBAC authorizer from the roles file.
func (c *Config) Authorizer() (*rbac.Authorizer, error) {
	if c.RolesFile == "" {
		klog.Warning("No roles file configured, every user may perform every action")
		return rbac.AllowAll(), nil
	}
	roles, err := rbac.LoadFile(c.RolesFile)
	if err != nil {
		return nil, err
	}
	klog.Infof("Loaded %d roles from %s", len(roles.Roles), c.RolesFile)
	return rbac.New(roles), nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			klog.Warningf("Invalid %s value: %s, using %v", key, val, defaultVal)
			return defaultVal
		}
		return b
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			klog.Warningf("Invalid %s value: %s, using %d", key, val, defaultVal)
			return defaultVal
		}
		return i
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			klog.Warningf("Invalid %s value: %s, using %s", key, val, defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
