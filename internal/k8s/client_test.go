package k8s

import (
	"os"
	"path/filepath"
	"testing"

	"k8s.io/client-go/kubernetes/fake"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

const testKubeconfig = `apiVersion: v1
kind: Config
current-context: staging
clusters:
- name: prod-cluster
  cluster:
    server: https://prod.example.com
- name: staging-cluster
  cluster:
    server: https://staging.example.com
contexts:
- name: prod
  context:
    cluster: prod-cluster
    user: admin
- name: staging
  context:
    cluster: staging-cluster
    user: admin
    namespace: apps
users:
- name: admin
  user:
    token: secret
`

func writeKubeconfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write kubeconfig: %v", err)
	}
	return path
}

func TestRegistryFromKubeconfig(t *testing.T) {
	dir, err := os.MkdirTemp("", "kubedash-kubeconfig-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	path := writeKubeconfig(t, dir, "config", testKubeconfig)
	r, err := NewRegistry(InitOptions{KubeconfigPath: path})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if r.Default() != "staging" {
		t.Errorf("Expected default 'staging', got %q", r.Default())
	}
	contexts := r.List()
	if len(contexts) != 2 {
		t.Fatalf("Expected 2 contexts, got %d", len(contexts))
	}
	if contexts[0].Name != "prod" || contexts[1].Name != "staging" {
		t.Errorf("Expected sorted contexts, got %v", contexts)
	}
	if !contexts[1].IsDefault || contexts[1].Namespace != "apps" {
		t.Errorf("Unexpected staging context: %+v", contexts[1])
	}

	c, err := r.Get("prod")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if c.Server != "https://prod.example.com" {
		t.Errorf("Expected prod server, got %q", c.Server)
	}
	if c.Kubeconfig != path {
		t.Errorf("Expected kubeconfig %q, got %q", path, c.Kubeconfig)
	}

	again, err := r.Get("prod")
	if err != nil || again != c {
		t.Error("Expected cached cluster on second Get")
	}

	def, err := r.Get("")
	if err != nil || def.Name != "staging" {
		t.Errorf("Expected default cluster, got %v (%v)", def, err)
	}

	if _, err := r.Get("nope"); !dasherrors.IsCode(err, dasherrors.ErrK8sUnknownCluster) {
		t.Errorf("Expected ErrK8sUnknownCluster, got %v", err)
	}
}

func TestRegistryFromDirectory(t *testing.T) {
	dir, err := os.MkdirTemp("", "kubedash-kubeconfig-dir-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	writeKubeconfig(t, dir, "a.yaml", testKubeconfig)
	writeKubeconfig(t, dir, "junk.txt", "not a kubeconfig: [")
	writeKubeconfig(t, dir, ".hidden", testKubeconfig)

	r, err := NewRegistry(InitOptions{KubeconfigDirs: []string{dir}})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if len(r.List()) != 2 {
		t.Errorf("Expected 2 contexts, got %d", len(r.List()))
	}
}

func TestStaticRegistry(t *testing.T) {
	r := NewStaticRegistry(
		&Cluster{Name: "a", Clientset: fake.NewSimpleClientset()},
		&Cluster{Name: "b", Clientset: fake.NewSimpleClientset()},
	)
	if r.Default() != "a" {
		t.Errorf("Expected default 'a', got %q", r.Default())
	}
	c, err := r.Get("b")
	if err != nil || c.Name != "b" {
		t.Errorf("Expected cluster b, got %v (%v)", c, err)
	}
}

func TestEmptyRegistry(t *testing.T) {
	r := NewStaticRegistry()
	if _, err := r.Get(""); !dasherrors.IsCode(err, dasherrors.ErrK8sClientNotInitialized) {
		t.Errorf("Expected client-not-initialized error, got %v", err)
	}
	if _, err := r.Get("prod"); !dasherrors.IsCode(err, dasherrors.ErrK8sUnknownCluster) {
		t.Errorf("Expected unknown cluster error, got %v", err)
	}
}
