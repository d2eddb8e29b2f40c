// Package schedule implements the run subcommand's wire format and
// execution: a JSON document of containers pinned to machines and overlay
// addresses, started, waited on, and collected via internal/executor. It
// adds no planning algorithm of its own; the network state it runs against
// was already applied by the net subcommand.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/oar-p2p/oar-p2p/internal/addrplan"
	"github.com/oar-p2p/oar-p2p/internal/executor"
	"github.com/oar-p2p/oar-p2p/internal/registry"
	"github.com/oar-p2p/oar-p2p/internal/signalspec"
)

// ContainerSpec is one workload container pinned to a machine and one of
// its already-applied overlay addresses.
type ContainerSpec struct {
	Name    string                 `json:"name"`
	Machine registry.MachineID     `json:"machine"`
	Address netip.Addr             `json:"address"`
	Image   string                 `json:"image,omitempty"`
	Command []string               `json:"command,omitempty"`
	Env     map[string]string      `json:"env,omitempty"`
	StartAt *signalspec.SignalSpec `json:"start_at,omitempty"`
}

// Schedule is the full set of containers one `run` invocation manages.
type Schedule struct {
	Containers []ContainerSpec `json:"containers"`
}

// ErrAddressNotOwned reports a ContainerSpec whose Address is not one of
// Machine's addresses in the current plan.
type ErrAddressNotOwned struct {
	Container string
	Machine   registry.MachineID
	Address   netip.Addr
}

func (e *ErrAddressNotOwned) Error() string {
	return fmt.Sprintf("container %q: address %s is not owned by machine %s",
		e.Container, e.Address, e.Machine.Hostname())
}

// Load parses a Schedule from a JSON document at path.
func Load(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading schedule %s", path)
	}

	var sched Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, errors.Wrapf(err, "parsing schedule %s", path)
	}
	return &sched, nil
}

// Validate checks that every container's Address belongs to its Machine in
// plan.
func (s *Schedule) Validate(plan *addrplan.Plan) error {
	for _, c := range s.Containers {
		owned := false
		for _, a := range plan.PerMachine[c.Machine] {
			if a.IP == c.Address {
				owned = true
				break
			}
		}
		if !owned {
			return &ErrAddressNotOwned{Container: c.Name, Machine: c.Machine, Address: c.Address}
		}
	}
	return nil
}

// Run validates sched against plan, starts every container (fanned out by
// machine), waits for each to exit, and copies its logs into
// outputDir/<machine>/<name>.log.
func Run(ctx context.Context, sched *Schedule, plan *addrplan.Plan, resolve func(registry.MachineID) (executor.Transport, error), outputDir string) error {
	if err := sched.Validate(plan); err != nil {
		return err
	}

	byMachine := make(map[registry.MachineID][]ContainerSpec)
	var machines []registry.MachineID
	for _, c := range sched.Containers {
		if _, ok := byMachine[c.Machine]; !ok {
			machines = append(machines, c.Machine)
		}
		byMachine[c.Machine] = append(byMachine[c.Machine], c)
	}

	_, err := executor.ForEach(machines, func(m registry.MachineID) (struct{}, error) {
		transport, err := resolve(m)
		if err != nil {
			return struct{}{}, err
		}

		for _, c := range byMachine[m] {
			if err := startContainer(ctx, transport, c); err != nil {
				return struct{}{}, err
			}
			if err := waitContainer(ctx, transport, c); err != nil {
				return struct{}{}, err
			}
			if err := collectLogs(ctx, transport, c, outputDir); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

// startContainer builds and runs the container's "docker run" invocation,
// threading through its environment and command override. A StartAt signal
// delay is honored as a "sleep <seconds> &&" prefix on the same script
// rather than a blocking wait in Go, so the delay counts from the moment
// this container's start script runs. Run handles the containers of one
// machine one after another (start, wait for exit, collect logs), so only
// the first container of each machine starts at a fixed offset from when
// ForEach dispatched that machine; a later container's delay begins only
// after every earlier container on the same machine has exited.
func startContainer(ctx context.Context, t executor.Transport, c ContainerSpec) error {
	var b strings.Builder

	if c.StartAt != nil && c.StartAt.Delay > 0 {
		fmt.Fprintf(&b, "sleep %d && ", int64(c.StartAt.Delay.Seconds()))
	}

	fmt.Fprintf(&b, "docker run -d --name %s --network container:oar-p2p-helper", c.Name)

	envKeys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		fmt.Fprintf(&b, " --env %s", shellQuote(k+"="+c.Env[k]))
	}

	image := c.Image
	if image == "" {
		image = executor.HelperImageTag
	}
	fmt.Fprintf(&b, " %s", image)
	for _, arg := range c.Command {
		fmt.Fprintf(&b, " %s", shellQuote(arg))
	}

	_, err := executor.RunHost(ctx, t, b.String())
	return err
}

// shellQuote wraps s in single quotes for safe interpolation into a
// generated shell script, escaping any single quote in s itself.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func waitContainer(ctx context.Context, t executor.Transport, c ContainerSpec) error {
	script := fmt.Sprintf("docker wait %s", c.Name)
	_, err := executor.RunHost(ctx, t, script)
	return err
}

func collectLogs(ctx context.Context, t executor.Transport, c ContainerSpec, outputDir string) error {
	dir := filepath.Join(outputDir, t.Hostname())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating log directory %s", dir)
	}

	script := fmt.Sprintf("docker logs %s", c.Name)
	result, err := executor.RunHost(ctx, t, script)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, c.Name+".log")
	if err := os.WriteFile(path, []byte(result.Stdout), 0o644); err != nil {
		return errors.Wrapf(err, "writing log %s", path)
	}
	return nil
}
