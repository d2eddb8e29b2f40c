// Package oarstat is the batch-scheduler collaborator: it asks OAR (via the
// oarstat CLI, local or over ssh, or via $OAR_NODEFILE on a cluster machine)
// which machines belong to a job, and which jobs the caller currently has
// running. It carries none of the network-emulation algorithmic core; the
// Lifecycle Controller's first step cannot be wired without it.
package oarstat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/oar-p2p/oar-p2p/internal/execctx"
	"github.com/oar-p2p/oar-p2p/internal/executor"
	"github.com/oar-p2p/oar-p2p/internal/registry"
)

// jobSchema mirrors the one field of oarstat -J's JSON output this package
// reads, matching original_source/src/oar.rs's extract_machines_from_oar_stat_json.
type jobSchema struct {
	AssignedNetworkAddress []string `json:"assigned_network_address"`
}

// JobListMachines resolves the machines assigned to the job named by ctx,
// dispatching on the execution node: Frontend and Unknown both run
// "oarstat -j <id> -J" (Unknown over ssh to the frontend hostname), a
// cluster Machine reads $OAR_NODEFILE instead.
func JobListMachines(ctx context.Context, ec *execctx.Context) ([]registry.MachineID, error) {
	switch ec.Node {
	case execctx.NodeFrontend:
		jobID, err := ec.JobID(ctx)
		if err != nil {
			return nil, err
		}
		out, err := runOarstat(ctx, jobID, nil)
		if err != nil {
			return nil, err
		}
		return extractMachines(out, jobID)

	case execctx.NodeMachine:
		return machinesFromNodefile()

	default:
		jobID, err := ec.JobID(ctx)
		if err != nil {
			return nil, err
		}
		frontend, err := ec.FrontendHostname()
		if err != nil {
			return nil, err
		}
		out, err := runOarstat(ctx, jobID, &frontend)
		if err != nil {
			return nil, err
		}
		return extractMachines(out, jobID)
	}
}

// ListUserJobIDs lists the job ids currently running for the calling user,
// used by execctx.Context.JobID to infer a job id when none was given
// explicitly.
func ListUserJobIDs(ctx context.Context, ec *execctx.Context) ([]uint32, error) {
	var out []byte
	switch ec.Node {
	case execctx.NodeFrontend, execctx.NodeMachine:
		cmd := exec.CommandContext(ctx, "oarstat", "-J", "-u", currentUser())
		o, err := cmd.Output()
		if err != nil {
			return nil, errors.Wrap(err, "running oarstat")
		}
		out = o
	default:
		frontend, err := ec.FrontendHostname()
		if err != nil {
			return nil, err
		}
		result, err := executor.NewNativeSSH(frontend, currentUser()).Run(ctx, "oarstat -J -u "+currentUser())
		if err != nil {
			return nil, errors.Wrap(err, "running oarstat")
		}
		out = []byte(result.Stdout)
	}

	jobs := make(map[string]json.RawMessage)
	if err := json.Unmarshal(out, &jobs); err != nil {
		return nil, errors.Wrap(err, "parsing oarstat output")
	}

	ids := make([]uint32, 0, len(jobs))
	for k := range jobs {
		n, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func currentUser() string {
	if u, ok := os.LookupEnv("USER"); ok {
		return u
	}
	return ""
}

// runOarstat runs "oarstat -j <jobID> -J" locally, or over a native ssh
// session to sshFrontend when set — like ListUserJobIDs, it uses the native
// ssh.Client transport, since only the helper-container path needs an
// interactive ssh(1) process to pipe "docker run -i" through.
func runOarstat(ctx context.Context, jobID uint32, sshFrontend *string) ([]byte, error) {
	if sshFrontend == nil {
		cmd := exec.CommandContext(ctx, "oarstat", "-j", fmt.Sprint(jobID), "-J")
		out, err := cmd.Output()
		if err != nil {
			return nil, errors.Wrap(err, "running oarstat")
		}
		return out, nil
	}

	result, err := executor.NewNativeSSH(*sshFrontend, currentUser()).Run(ctx, fmt.Sprintf("oarstat -j %d -J", jobID))
	if err != nil {
		return nil, errors.Wrap(err, "running oarstat")
	}
	return []byte(result.Stdout), nil
}

func extractMachines(output []byte, jobID uint32) ([]registry.MachineID, error) {
	jobs := make(map[string]jobSchema)
	if err := json.Unmarshal(output, &jobs); err != nil {
		return nil, errors.Wrap(err, "parsing oarstat output")
	}

	key := strconv.FormatUint(uint64(jobID), 10)
	data, ok := jobs[key]
	if !ok {
		return nil, fmt.Errorf("oarstat: missing job key %q", key)
	}

	machines := make([]registry.MachineID, 0, len(data.AssignedNetworkAddress))
	for _, hostname := range data.AssignedNetworkAddress {
		m, err := registry.LookupByHostname(hostname)
		if err != nil {
			return nil, errors.Wrapf(err, "unknown machine %q", hostname)
		}
		machines = append(machines, m)
	}
	return machines, nil
}

func machinesFromNodefile() ([]registry.MachineID, error) {
	path, ok := os.LookupEnv("OAR_NODEFILE")
	if !ok {
		return nil, errors.New("reading OAR_NODEFILE env var")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	seen := make(map[string]struct{})
	var hostnames []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		hostnames = append(hostnames, line)
	}

	machines := make([]registry.MachineID, 0, len(hostnames))
	for _, hostname := range hostnames {
		m, err := registry.LookupByHostname(hostname)
		if err != nil {
			return nil, errors.Wrapf(err, "unknown machine %q", hostname)
		}
		machines = append(machines, m)
	}
	return machines, nil
}
