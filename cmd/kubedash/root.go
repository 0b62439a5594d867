package main

import (
	"flag"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/skyhook-io/kubedash/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "kubedash",
		Short: "Operate Kubernetes Deployments with Helm and Flux awareness",
		Long: `kubedash restarts, scales, edits and rolls back Kubernetes Deployments.

Run "kubedash serve" to start the API server, then use the deploy commands
against it, or pass --local to run them directly against your kubeconfig.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)
	cfg.BindClusterFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(cfg),
		newDeployCmd(cfg),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kubedash version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kubedash %s\n", version)
		},
	}
}
