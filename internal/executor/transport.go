// Package executor is the Remote Executor: it resolves, for any target
// machine, the right transport (local shell, direct ssh, or ssh through a
// jump host) and runs shell scripts on it, optionally inside the privileged
// helper container. It also owns the bounded-concurrency fan-out every
// lifecycle step is expressed through.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/oar-p2p/oar-p2p/internal/execctx"
	"github.com/oar-p2p/oar-p2p/internal/registry"
)

// Result is the captured output of one script execution.
type Result struct {
	Stdout string
	Stderr string
}

// Transport runs a shell script against a single machine and returns its
// captured stdout/stderr, or an error if the child process failed.
type Transport interface {
	// Run executes script on the target. The local and ssh(1) transports
	// feed it on standard input to "bash -s"; the native ssh transport
	// passes it as the session's command.
	Run(ctx context.Context, script string) (Result, error)
	// Hostname identifies the target for error annotation.
	Hostname() string
}

// sshDialTimeout is the connection timeout used by the native ssh transport.
const sshDialTimeout = 10 * time.Second

// Resolve picks the Transport for running a script on machine m, given the
// caller's execution context, per the node-to-transport rules: Frontend
// dials m directly, a cluster Machine dials m unless m is itself (then runs
// locally), and Unknown dials through the configured frontend jump host.
func Resolve(ec *execctx.Context, m registry.MachineID) (Transport, error) {
	entry, err := registry.LookupByIndex(m)
	if err != nil {
		return nil, err
	}

	switch ec.Node {
	case execctx.NodeFrontend:
		return newSSHExecTransport(entry.Hostname, nil), nil
	case execctx.NodeMachine:
		if ec.Machine == m {
			return newLocalTransport(entry.Hostname), nil
		}
		return newSSHExecTransport(entry.Hostname, nil), nil
	default:
		frontend, err := ec.FrontendHostname()
		if err != nil {
			return nil, err
		}
		return newSSHExecTransport(entry.Hostname, &frontend), nil
	}
}

// localTransport runs scripts with "bash -s" on the local host.
type localTransport struct {
	hostname string
}

func newLocalTransport(hostname string) *localTransport {
	return &localTransport{hostname: hostname}
}

func (t *localTransport) Hostname() string { return t.hostname }

func (t *localTransport) Run(ctx context.Context, script string) (Result, error) {
	cmd := exec.CommandContext(ctx, "bash", "-s")
	cmd.Stdin = bytes.NewBufferString(script)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, fmt.Errorf("%w\n%s", err, stderr.String())
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// sshExecTransport shells out to the ssh(1) binary so the child process can
// pipe "docker run -i" exactly as an interactive operator would; jumpHost,
// when set, is passed as "-J".
type sshExecTransport struct {
	hostname string
	jumpHost *string
}

func newSSHExecTransport(hostname string, jumpHost *string) *sshExecTransport {
	return &sshExecTransport{hostname: hostname, jumpHost: jumpHost}
}

func (t *sshExecTransport) Hostname() string { return t.hostname }

func (t *sshExecTransport) Run(ctx context.Context, script string) (Result, error) {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
	}
	if t.jumpHost != nil {
		args = append(args, "-J", *t.jumpHost)
	}
	args = append(args, t.hostname, "bash", "-s")

	cmd := exec.CommandContext(ctx, "ssh", args...)
	cmd.Stdin = bytes.NewBufferString(script)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, fmt.Errorf("%w\n%s", err, stderr.String())
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// SSHAuthSockEnv names the ssh-agent socket the native ssh transport
// authenticates through.
const SSHAuthSockEnv = "SSH_AUTH_SOCK"

// sshNativeTransport uses golang.org/x/crypto/ssh directly, for the
// non-privileged collaborator queries (oarstat) where no container stdin
// piping is needed and a native client avoids spawning a shell per query.
type sshNativeTransport struct {
	hostname string
	addr     string
	user     string
}

// NewNativeSSH builds a native ssh.Client-backed Transport to host:22,
// disabling host key checking because cluster hostnames are ephemeral.
// Authentication goes through the caller's running ssh-agent, the same
// credential source the oarstat queries would use if shelled out to ssh(1).
func NewNativeSSH(hostname, user string) Transport {
	return &sshNativeTransport{hostname: hostname, addr: hostname + ":22", user: user}
}

func (t *sshNativeTransport) Hostname() string { return t.hostname }

func (t *sshNativeTransport) Run(ctx context.Context, script string) (Result, error) {
	auth, err := sshAgentAuth()
	if err != nil {
		return Result{}, err
	}

	config := &ssh.ClientConfig{
		User:            t.user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}

	client, err := ssh.Dial("tcp", t.addr, config)
	if err != nil {
		return Result{}, errors.Wrapf(err, "dialing %s", t.addr)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, errors.Wrapf(err, "opening ssh session to %s", t.hostname)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(script); err != nil {
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, errors.Wrapf(err, "running command on %s", t.hostname)
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// sshAgentAuth builds an ssh.AuthMethod backed by the signers a running
// ssh-agent offers over its unix socket, the same credential source an
// interactive "ssh" invocation picks up automatically.
func sshAgentAuth() (ssh.AuthMethod, error) {
	sock := os.Getenv(SSHAuthSockEnv)
	if sock == "" {
		return nil, errors.Errorf("%s not set: native ssh transport requires a running ssh-agent", SSHAuthSockEnv)
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, errors.Wrap(err, "dialing ssh-agent socket")
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}
