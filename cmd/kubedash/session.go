package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skyhook-io/kubedash/internal/apiclient"
	"github.com/skyhook-io/kubedash/internal/config"
	"github.com/skyhook-io/kubedash/internal/deploy"
	"github.com/skyhook-io/kubedash/internal/history"
	"github.com/skyhook-io/kubedash/internal/orchestrator"
	"github.com/skyhook-io/kubedash/internal/polling"
)

// backend is what the deploy commands need beyond the orchestrator port
type backend interface {
	orchestrator.Backend
	ActionHistory(ctx context.Context, t deploy.Target, limit int) ([]history.ActionRecord, error)
	Watch(ctx context.Context, t deploy.Target) (<-chan deploy.WatchEvent, error)
}

var (
	_ backend = (*deploy.Service)(nil)
	_ backend = (*apiclient.Client)(nil)
)

// newBackend picks the in-process service or the HTTP client. Tests replace it.
var newBackend = func(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	if cfg.Local {
		return newService(ctx, cfg)
	}
	return apiclient.New(cfg.ServerURL, apiclient.WithGroups(cfg.Groups...)), func() {}, nil
}

// deployOptions are the flags shared by every deploy subcommand
type deployOptions struct {
	cfg       *config.Config
	cluster   string
	namespace string
	yes       bool
	wait      bool
	timeout   time.Duration
}

func (d *deployOptions) target(name string) deploy.Target {
	return deploy.Target{Cluster: d.cluster, Namespace: d.namespace, Name: name}
}

func (d *deployOptions) actor() string {
	if d.cfg.User != "" {
		return d.cfg.User
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return deploy.AnonymousActor
}

// session is one open deployment view driven from the command line
type session struct {
	opts    *deployOptions
	orch    *orchestrator.Orchestrator
	backend backend
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	failed  bool
	cleanup func()
}

// openSession connects to the backend and opens the view of name. The
// returned context carries the actor and ends on SIGINT/SIGTERM.
func (d *deployOptions) openSession(cmd *cobra.Command, name string) (context.Context, *session, error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	ctx = deploy.WithActor(ctx, d.actor())

	be, closeBackend, err := newBackend(ctx, d.cfg)
	if err != nil {
		stop()
		return nil, nil, err
	}

	s := &session{
		opts:    d,
		backend: be,
		in:      cmd.InOrStdin(),
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
	}
	s.orch = orchestrator.New(orchestrator.Options{
		Target:       d.target(name),
		Backend:      be,
		Notifier:     orchestrator.NotifierFunc(s.notify),
		Language:     d.cfg.Language,
		FastInterval: d.cfg.PollInterval,
		Debounce:     d.cfg.Debounce,
	})
	s.cleanup = func() {
		s.orch.Close()
		closeBackend()
		stop()
	}

	if err := s.orch.Open(ctx); err != nil {
		s.cleanup()
		return nil, nil, err
	}
	return ctx, s, nil
}

func (s *session) Close() {
	s.cleanup()
}

func (s *session) notify(n orchestrator.Notification) {
	if n.Success {
		fmt.Fprintln(s.out, n.Message)
		return
	}
	s.failed = true
	fmt.Fprintf(s.errOut, "Error: %s\n", n.Message)
}

// perform confirms and runs one action, then waits for the Deployment to
// settle when --wait is set.
func (s *session) perform(ctx context.Context, prompt string, act func(ctx context.Context) error) error {
	if !s.opts.yes && !s.confirm(prompt) {
		fmt.Fprintln(s.out, "Aborted")
		return nil
	}
	if err := act(ctx); err != nil {
		if s.failed {
			return errReported
		}
		return err
	}
	return s.waitStable(ctx)
}

func (s *session) confirm(prompt string) bool {
	fmt.Fprintf(s.out, "%s [y/N]: ", prompt)
	answer, err := bufio.NewReader(s.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// waitStable prints status changes until the polling machine goes idle.
func (s *session) waitStable(ctx context.Context) error {
	if !s.opts.wait {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.cfg.PollInterval)
	defer ticker.Stop()

	var last string
	for {
		if v := s.orch.View(); v != nil {
			line := fmt.Sprintf("%s/%s: %s (%d/%d ready, %d updated)",
				v.Namespace, v.Name, v.Status, v.ReadyReplicas, v.DesiredReplicas, v.UpdatedReplicas)
			if line != last {
				fmt.Fprintln(s.out, line)
				last = line
			}
		}
		if s.orch.Machine().Phase() == polling.Idle {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out after %s waiting for %s to become stable", s.opts.timeout, s.orch.Target())
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
