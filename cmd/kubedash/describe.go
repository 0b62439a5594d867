package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/cli-runtime/pkg/printers"

	"github.com/skyhook-io/kubedash/internal/deploy"
	"github.com/skyhook-io/kubedash/internal/helm"
	"github.com/skyhook-io/kubedash/internal/history"
	"github.com/skyhook-io/kubedash/internal/orchestrator"
)

func newDescribeCmd(opts *deployOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe NAME",
		Short: "Show status, Helm history and Flux state of a Deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, s, err := opts.openSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			printView(s.out, s.orch.View())

			helmPanel, err := s.orch.LoadHelmPanel(ctx)
			if err != nil {
				return errReported
			}
			fluxPanel, err := s.orch.LoadFluxPanel(ctx)
			if err != nil {
				return errReported
			}
			printHelmPanel(s.out, helmPanel)
			printFluxPanel(s.out, fluxPanel)
			return nil
		},
	}
}

func printView(w io.Writer, v *orchestrator.DeploymentView) {
	if v == nil {
		return
	}
	fmt.Fprintf(w, "Deployment: %s/%s\n", v.Namespace, v.Name)
	fmt.Fprintf(w, "Status:     %s\n", v.Status)
	fmt.Fprintf(w, "Replicas:   %d desired, %d updated, %d ready, %d available\n",
		v.DesiredReplicas, v.UpdatedReplicas, v.ReadyReplicas, v.AvailableReplicas)
}

func printHelmPanel(w io.Writer, p *orchestrator.HelmPanel) {
	source := "label"
	if !p.Binding.WasDetected {
		source = "deployment name"
	}
	fmt.Fprintf(w, "\nHelm release: %s (from %s)\n", p.Binding.ResolvedReleaseName, source)
	if len(p.Revisions) == 0 {
		fmt.Fprintln(w, "No Helm history found")
		return
	}
	printTable(w, revisionTable(p.Revisions))
}

func printFluxPanel(w io.Writer, p *orchestrator.FluxPanel) {
	fmt.Fprintln(w)
	if p.Status == nil {
		fmt.Fprintln(w, "FluxCD: not managed by a HelmRelease")
		return
	}
	st := p.Status
	fmt.Fprintf(w, "FluxCD HelmRelease: %s/%s (%s)\n", st.Namespace, st.ReleaseName, st.APIVersion)
	fmt.Fprintf(w, "  Ready:     %v\n", st.Ready)
	fmt.Fprintf(w, "  Suspended: %v", st.Suspended)
	if st.SuspendedBy != "" {
		fmt.Fprintf(w, " (by %s)", st.SuspendedBy)
	}
	fmt.Fprintln(w)
	if st.Message != "" {
		fmt.Fprintf(w, "  Message:   %s\n", st.Message)
	}
}

func revisionTable(revisions []helm.Revision) *metav1.Table {
	table := &metav1.Table{
		ColumnDefinitions: []metav1.TableColumnDefinition{
			{Name: "REVISION", Type: "integer"},
			{Name: "UPDATED", Type: "string"},
			{Name: "STATUS", Type: "string"},
			{Name: "CHART", Type: "string"},
			{Name: "APP VERSION", Type: "string"},
			{Name: "IMAGE", Type: "string"},
			{Name: "DESCRIPTION", Type: "string"},
		},
	}
	for _, r := range revisions {
		table.Rows = append(table.Rows, metav1.TableRow{
			Cells: []interface{}{
				r.Revision,
				r.Updated.Format(time.RFC3339),
				r.Status,
				r.Chart,
				r.AppVersion,
				r.ImageVersion,
				r.Description,
			},
		})
	}
	return table
}

func historyTable(records []history.ActionRecord) *metav1.Table {
	table := &metav1.Table{
		ColumnDefinitions: []metav1.TableColumnDefinition{
			{Name: "TIME", Type: "string"},
			{Name: "ACTION", Type: "string"},
			{Name: "OPERATOR", Type: "string"},
			{Name: "RESULT", Type: "string"},
			{Name: "DETAILS", Type: "string"},
		},
	}
	for _, r := range records {
		result := "ok"
		if !r.Success {
			result = "failed: " + r.Error
		}
		var details []string
		for _, k := range slices.Sorted(maps.Keys(r.Details)) {
			details = append(details, fmt.Sprintf("%s=%v", k, r.Details[k]))
		}
		table.Rows = append(table.Rows, metav1.TableRow{
			Cells: []interface{}{
				r.Timestamp.Format(time.RFC3339),
				r.Action,
				r.Operator,
				result,
				strings.Join(details, " "),
			},
		})
	}
	return table
}

func printTable(w io.Writer, table *metav1.Table) {
	printer := printers.NewTablePrinter(printers.PrintOptions{})
	if err := printer.PrintObj(table, w); err != nil {
		fmt.Fprintf(w, "Error printing table: %v\n", err)
	}
}

func newHistoryCmd(opts *deployOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history NAME",
		Short: "List recorded actions on a Deployment, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.cfg.Validate(); err != nil {
				return err
			}
			ctx := deploy.WithActor(cmd.Context(), opts.actor())
			be, closeBackend, err := newBackend(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			records, err := be.ActionHistory(ctx, opts.target(args[0]), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No actions recorded")
				return nil
			}
			printTable(cmd.OutOrStdout(), historyTable(records))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of records (default 50)")
	return cmd
}

func newWatchCmd(opts *deployOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch NAME",
		Short: "Stream status changes of a Deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = deploy.WithActor(ctx, opts.actor())
			be, closeBackend, err := newBackend(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			events, err := be.Watch(ctx, opts.target(args[0]))
			if err != nil {
				return err
			}
			for ev := range events {
				printWatchEvent(cmd.OutOrStdout(), ev)
			}
			return nil
		},
	}
}

func printWatchEvent(w io.Writer, ev deploy.WatchEvent) {
	if ev.Deployment == nil {
		fmt.Fprintf(w, "%s %s\n", ev.Type, ev.Error)
		return
	}
	d := ev.Deployment
	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	stable := "settling"
	if ev.Stable {
		stable = "stable"
	}
	fmt.Fprintf(w, "%s %s/%s %s (%s) %d/%d ready\n",
		ev.Type, d.Namespace, d.Name, ev.Status, stable, d.Status.ReadyReplicas, desired)
}
