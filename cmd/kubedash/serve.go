package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/skyhook-io/kubedash/internal/config"
	"github.com/skyhook-io/kubedash/internal/deploy"
	"github.com/skyhook-io/kubedash/internal/history"
	"github.com/skyhook-io/kubedash/internal/k8s"
	"github.com/skyhook-io/kubedash/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the kubedash API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	cfg.BindServerFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	klog.Infof("kubedash %s starting...", version)

	svc, closeService, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeService()

	authz, err := cfg.Authorizer()
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Port:           cfg.Port,
		Service:        svc,
		Authorizer:     authz,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	klog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newService builds the in-process backend from the kubeconfig and the
// configured history store.
func newService(ctx context.Context, cfg *config.Config) (*deploy.Service, func(), error) {
	registry, err := k8s.NewRegistry(k8s.InitOptions{
		KubeconfigPath: cfg.Kubeconfig,
		KubeconfigDirs: cfg.KubeconfigDirs,
		InCluster:      cfg.InCluster,
	})
	if err != nil {
		return nil, nil, err
	}
	klog.Infof("Loaded %d cluster contexts (default %q)", len(registry.List()), registry.Default())

	store, err := history.Open(ctx, cfg.HistoryOptions())
	if err != nil {
		return nil, nil, err
	}

	svc := deploy.NewService(deploy.Options{
		Clusters:     registry,
		History:      store,
		MaxRevisions: cfg.HelmMaxRevisions,
	})
	closeStore := func() {
		if err := store.Close(); err != nil {
			klog.Warningf("Failed to close action history: %v", err)
		}
	}
	return svc, closeStore, nil
}
