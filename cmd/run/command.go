// Package run wires the "run" subcommand: schedule-driven container
// execution against an overlay network a prior "net up" already applied.
package run

import (
	"context"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/oar-p2p/oar-p2p/internal/addrplan"
	"github.com/oar-p2p/oar-p2p/internal/cliconfig"
	"github.com/oar-p2p/oar-p2p/internal/execctx"
	"github.com/oar-p2p/oar-p2p/internal/executor"
	"github.com/oar-p2p/oar-p2p/internal/metrics"
	"github.com/oar-p2p/oar-p2p/internal/oarstat"
	"github.com/oar-p2p/oar-p2p/internal/policy"
	"github.com/oar-p2p/oar-p2p/internal/registry"
	"github.com/oar-p2p/oar-p2p/internal/schedule"
)

// Command wires the "run" subcommand under the shared flag/env config.
type Command struct {
	Config *cliconfig.Config
}

// Command builds the "run" cobra command.
func (c *Command) Command() *cobra.Command {
	var outputDir string
	var addrPerCPU uint32

	cmd := &cobra.Command{
		Use:   "run [schedule-path]",
		Short: "Run a schedule of containers against the currently applied overlay network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ec *execctx.Context
			opts := []execctx.Option{
				execctx.WithInferJobID(c.Config.InferJobID),
				execctx.WithFrontendHostname(c.Config.FrontendHostname),
				execctx.WithJobIDLister(func(ctx context.Context) ([]uint32, error) {
					return oarstat.ListUserJobIDs(ctx, ec)
				}),
			}
			if c.Config.HasJobID() {
				opts = append(opts, execctx.WithJobID(c.Config.JobID))
			}

			var err error
			ec, err = execctx.Detect(opts...)
			if err != nil {
				return err
			}

			sched, err := schedule.Load(args[0])
			if err != nil {
				return err
			}

			machines, err := oarstat.JobListMachines(cmd.Context(), ec)
			if err != nil {
				return err
			}

			plan, err := addrplan.Build(machines, policy.PerCPU(addrPerCPU))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if c.Config.MetricsAddr != "" {
				go func() {
					if err := metrics.Serve(ctx, c.Config.MetricsAddr); err != nil {
						klog.ErrorS(err, "metrics server exited")
					}
				}()
			}

			resolve := func(m registry.MachineID) (executor.Transport, error) {
				return executor.Resolve(ec, m)
			}
			return schedule.Run(ctx, sched, plan, resolve, outputDir)
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", ".", "Directory container logs are written to.")
	cmd.Flags().Uint32Var(&addrPerCPU, "addr-per-cpu", 0,
		"Overlay addresses allocated per CPU; must match the value given to the preceding \"net up\".")
	return cmd
}
