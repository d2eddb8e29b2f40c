// Package net wires the "net up|down|show|preview" subcommands: the
// scriptable, non-interactive counterpart to the teacher's migrate/upgrade
// Command shape (cmd/helper/migrate/providerid/command.go), minus the
// bubbletea wizard those carry.
package net

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/oar-p2p/oar-p2p/internal/addrplan"
	"github.com/oar-p2p/oar-p2p/internal/cliconfig"
	"github.com/oar-p2p/oar-p2p/internal/execctx"
	"github.com/oar-p2p/oar-p2p/internal/executor"
	"github.com/oar-p2p/oar-p2p/internal/latency"
	"github.com/oar-p2p/oar-p2p/internal/lifecycle"
	"github.com/oar-p2p/oar-p2p/internal/metrics"
	"github.com/oar-p2p/oar-p2p/internal/oarstat"
	"github.com/oar-p2p/oar-p2p/internal/policy"
	"github.com/oar-p2p/oar-p2p/internal/registry"
	"github.com/oar-p2p/oar-p2p/internal/synth"
)

// Command groups the net subcommands under the shared flag/env config.
type Command struct {
	Config *cliconfig.Config
}

// Command builds the "net" cobra command tree.
func (c *Command) Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "net",
		Short: "Bring up, tear down, inspect or preview the overlay network",
	}

	root.AddCommand(c.upCommand())
	root.AddCommand(c.downCommand())
	root.AddCommand(c.showCommand())
	root.AddCommand(c.previewCommand())
	return root
}

func (c *Command) upCommand() *cobra.Command {
	var addrPerCPU uint32
	var matrixPath string

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Allocate overlay addresses, synthesise and apply network configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ec, err := c.detect()
			if err != nil {
				return err
			}

			matrix, err := loadMatrix(matrixPath)
			if err != nil {
				return err
			}

			ctx, stopMetrics := c.startMetrics(cmd.Context())
			defer stopMetrics()

			return lifecycle.NewController(ec).Up(ctx, matrix, policy.PerCPU(addrPerCPU))
		},
	}

	cmd.Flags().Uint32Var(&addrPerCPU, "addr-per-cpu", 0, "Overlay addresses to allocate per CPU on each machine.")
	cmd.Flags().StringVar(&matrixPath, "latency-matrix", "", "Path to the latency matrix file.")
	return cmd
}

func (c *Command) downCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Tear down the overlay network and all cluster state it left behind",
		RunE: func(cmd *cobra.Command, args []string) error {
			ec, err := c.detect()
			if err != nil {
				return err
			}

			ctx, stopMetrics := c.startMetrics(cmd.Context())
			defer stopMetrics()

			return lifecycle.NewController(ec).Down(ctx)
		},
	}
}

func (c *Command) showCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List machine/address pairs currently provisioned on each machine, one per line, sorted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ec, err := c.detect()
			if err != nil {
				return err
			}

			machines, err := oarstat.JobListMachines(cmd.Context(), ec)
			if err != nil {
				return err
			}

			results, err := executor.ForEach(machines, func(m registry.MachineID) (machineAddrs, error) {
				return queryMachineAddrs(cmd.Context(), ec, m)
			})
			if err != nil {
				return err
			}

			printProvisionedAddresses(cmd.OutOrStdout(), results)
			return nil
		},
	}

	return cmd
}

// machineAddrs is one machine's currently provisioned overlay addresses, as
// read live from the machine rather than recomputed from an allocation
// policy.
type machineAddrs struct {
	hostname string
	addrs    []string
}

// ipAddrShowInet matches the "inet <addr>/<mask>" field ip(8)'s "-o" output
// emits once per address, e.g. "2: bond0 inet 10.0.3.2/32 scope global bond0".
var ipAddrShowInet = regexp.MustCompile(`inet (\d+\.\d+\.\d+\.\d+)/\d+`)

// queryMachineAddrs resolves m's transport and lists the overlay addresses
// currently assigned to its interface, the live counterpart of addrplan's
// allocation ("currently provisioned addresses on each machine").
func queryMachineAddrs(ctx context.Context, ec *execctx.Context, m registry.MachineID) (machineAddrs, error) {
	entry, err := registry.LookupByIndex(m)
	if err != nil {
		return machineAddrs{}, err
	}

	transport, err := executor.Resolve(ec, m)
	if err != nil {
		return machineAddrs{}, err
	}

	result, err := executor.RunHost(ctx, transport, fmt.Sprintf("ip -4 -o addr show dev %s", entry.Interface))
	if err != nil {
		return machineAddrs{}, err
	}

	var addrs []string
	for _, match := range ipAddrShowInet.FindAllStringSubmatch(result.Stdout, -1) {
		addrs = append(addrs, match[1])
	}
	return machineAddrs{hostname: entry.Hostname, addrs: addrs}, nil
}

func (c *Command) previewCommand() *cobra.Command {
	var hostnames []string
	var addrPerCPU uint32
	var matrixPath string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the generated shell program for each machine without connecting to anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			machines := make([]registry.MachineID, 0, len(hostnames))
			for _, h := range hostnames {
				m, err := registry.LookupByHostname(h)
				if err != nil {
					return err
				}
				machines = append(machines, m)
			}

			matrix, err := loadMatrix(matrixPath)
			if err != nil {
				return err
			}

			plan, err := addrplan.Build(machines, policy.PerCPU(addrPerCPU))
			if err != nil {
				return err
			}

			configs, err := synth.Synthesise(machines, plan, matrix, registry.LookupByIndex)
			if err != nil {
				return err
			}

			for _, m := range machines {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s\n", m.Hostname(), lifecycle.ApplyScript(configs[m]))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&hostnames, "machine", nil, "Machine hostname to preview (repeatable).")
	cmd.Flags().Uint32Var(&addrPerCPU, "addr-per-cpu", 0, "Overlay addresses to allocate per CPU on each machine.")
	cmd.Flags().StringVar(&matrixPath, "latency-matrix", "", "Path to the latency matrix file.")
	return cmd
}

func (c *Command) detect() (*execctx.Context, error) {
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
	return ec, err
}

func (c *Command) startMetrics(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if c.Config.MetricsAddr == "" {
		return ctx, cancel
	}

	go func() {
		if err := metrics.Serve(ctx, c.Config.MetricsAddr); err != nil {
			klog.ErrorS(err, "metrics server exited")
		}
	}()
	return ctx, cancel
}

func loadMatrix(path string) (*latency.Matrix, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return latency.Parse(string(content), latency.Milliseconds)
}

func printProvisionedAddresses(w io.Writer, results []machineAddrs) {
	pairs := make([]string, 0, len(results))
	for _, r := range results {
		for _, addr := range r.addrs {
			pairs = append(pairs, fmt.Sprintf("%s %s", r.hostname, addr))
		}
	}
	sort.Strings(pairs)
	for _, p := range pairs {
		fmt.Fprintln(w, p)
	}
}
