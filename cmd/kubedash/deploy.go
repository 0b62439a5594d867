package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skyhook-io/kubedash/internal/config"
	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

const defaultWaitTimeout = 5 * time.Minute

func newDeployCmd(cfg *config.Config) *cobra.Command {
	opts := &deployOptions{cfg: cfg}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Operate on a Deployment",
	}
	fs := cmd.PersistentFlags()
	fs.StringVarP(&opts.cluster, "cluster", "c", "", "Cluster (kubeconfig context); empty selects the default")
	fs.StringVarP(&opts.namespace, "namespace", "n", "default", "Namespace of the Deployment")
	fs.BoolVarP(&opts.yes, "yes", "y", false, "Skip the confirmation prompt")
	fs.BoolVar(&opts.wait, "wait", true, "Wait for the Deployment to become stable after the action")
	fs.DurationVar(&opts.timeout, "timeout", defaultWaitTimeout, "How long --wait waits")
	cfg.BindClientFlags(fs)

	cmd.AddCommand(
		newRestartCmd(opts),
		newScaleCmd(opts),
		newRollbackCmd(opts),
		newSuspendCmd(opts),
		newResumeCmd(opts),
		newEditCmd(opts),
		newSetImageCmd(opts),
		newDescribeCmd(opts),
		newHistoryCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

func newRestartCmd(opts *deployOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restart NAME",
		Short: "Trigger a rolling restart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, s, err := opts.openSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			return s.perform(ctx, fmt.Sprintf("Restart deployment %s?", s.orch.Target()), s.orch.Restart)
		},
	}
}

func newScaleCmd(opts *deployOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scale NAME REPLICAS",
		Short: "Set the replica count",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			replicas, err := parseReplicas(args[1])
			if err != nil {
				return err
			}
			ctx, s, err := opts.openSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			current := int32(0)
			if v := s.orch.View(); v != nil {
				current = v.DesiredReplicas
			}
			prompt := fmt.Sprintf("Scale deployment %s from %d to %d replicas?", s.orch.Target(), current, replicas)
			return s.perform(ctx, prompt, func(ctx context.Context) error {
				return s.orch.Scale(ctx, replicas)
			})
		},
	}
}

func parseReplicas(text string) (int32, error) {
	n, err := strconv.ParseInt(text, 10, 32)
	if err != nil || n < 0 {
		return 0, dasherrors.ValidationError(fmt.Sprintf("replicas must be a non-negative integer, got %q", text))
	}
	return int32(n), nil
}

func newRollbackCmd(opts *deployOptions) *cobra.Command {
	var (
		release       string
		revision      int
		noSuspendFlux bool
	)
	cmd := &cobra.Command{
		Use:   "rollback NAME",
		Short: "Roll the Deployment's Helm release back",
		Long: `Roll the Helm release behind the Deployment back to a revision, or to the
previous revision when --revision is not set.

By default the FluxCD HelmRelease is suspended afterwards so Flux does not
undo the rollback. Use "deploy resume" to hand control back to Flux.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, s, err := opts.openSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if release == "" {
				if _, err := s.orch.ResolveRelease(ctx); err != nil {
					return err
				}
			}
			form := s.orch.OpenRollback(revision)
			if release != "" {
				form.ReleaseName = release
			}
			form.SuspendFlux = !noSuspendFlux
			s.orch.SetRollbackForm(form)

			target := "the previous revision"
			if form.Revision != "" {
				target = "revision " + form.Revision
			}
			prompt := fmt.Sprintf("Roll back release %s to %s?", form.ReleaseName, target)
			if form.SuspendFlux {
				prompt += " The FluxCD HelmRelease will be suspended."
			}
			return s.perform(ctx, prompt, s.orch.ConfirmRollback)
		},
	}
	cmd.Flags().StringVar(&release, "release", "", "Helm release name (default: detected from the Deployment)")
	cmd.Flags().IntVar(&revision, "revision", 0, "Revision to roll back to (default: previous)")
	cmd.Flags().BoolVar(&noSuspendFlux, "no-suspend-flux", false, "Leave the FluxCD HelmRelease reconciling")
	return cmd
}

func newSuspendCmd(opts *deployOptions) *cobra.Command {
	return newFluxCmd(opts, "suspend", "Suspend the FluxCD HelmRelease (disable auto-sync with Git)", true)
}

func newResumeCmd(opts *deployOptions) *cobra.Command {
	return newFluxCmd(opts, "resume", "Resume the FluxCD HelmRelease (re-enable auto-sync with Git)", false)
}

func newFluxCmd(opts *deployOptions, verb, short string, suspend bool) *cobra.Command {
	var release string
	cmd := &cobra.Command{
		Use:   verb + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, s, err := opts.openSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if release == "" {
				if _, err := s.orch.ResolveRelease(ctx); err != nil {
					return err
				}
			}
			act := s.orch.Resume
			if suspend {
				act = s.orch.Suspend
				s.orch.OpenSuspend()
			} else {
				s.orch.OpenResume()
			}
			if release != "" {
				s.orch.SetFluxRelease(release)
			}
			if !s.orch.CanConfirmFlux() {
				return dasherrors.ValidationError("releaseName is required")
			}

			prompt := fmt.Sprintf("%s HelmRelease %s?", strings.ToUpper(verb[:1])+verb[1:], s.orch.FluxRelease())
			return s.perform(ctx, prompt, func(ctx context.Context) error {
				return act(ctx, "")
			})
		},
	}
	cmd.Flags().StringVar(&release, "release", "", "HelmRelease name (default: detected from the Deployment)")
	return cmd
}
