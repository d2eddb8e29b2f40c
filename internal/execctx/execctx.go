// Package execctx detects where the current process is running (the
// frontend gateway, a known cluster machine, or outside the cluster
// entirely) and holds the immutable runtime facts the Remote Executor
// needs to resolve a transport to any target machine.
package execctx

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/oar-p2p/oar-p2p/internal/registry"
)

// hostnameFile is read first when detecting the execution node; it falls
// back to the HOSTNAME environment variable, matching
// original_source/src/context.rs::get_hostname.
const hostnameFile = "/etc/hostname"

// Node is the execution location: Frontend, a known cluster Machine, or
// Unknown (outside the cluster).
type Node int

const (
	NodeUnknown Node = iota
	NodeFrontend
	NodeMachine
)

func (n Node) String() string {
	switch n {
	case NodeFrontend:
		return "frontend"
	case NodeMachine:
		return "machine"
	default:
		return "unknown"
	}
}

// Context is the immutable set of runtime facts the Remote Executor and the
// scheduler collaborator consume.
type Context struct {
	Node    Node
	Machine registry.MachineID // valid only when Node == NodeMachine

	jobID            *uint32
	inferJobID       bool
	frontendHostname string
	listUserJobIDs   func(ctx context.Context) ([]uint32, error)
}

// Option configures a Context built by Detect.
type Option func(*Context)

// WithJobID pins an explicit job id, skipping inference.
func WithJobID(id uint32) Option {
	return func(c *Context) { c.jobID = &id }
}

// WithInferJobID enables inferring the job id from the caller's running
// jobs when none was explicitly given.
func WithInferJobID(infer bool) Option {
	return func(c *Context) { c.inferJobID = infer }
}

// WithFrontendHostname sets the jump host used when running from Unknown.
func WithFrontendHostname(hostname string) Option {
	return func(c *Context) { c.frontendHostname = hostname }
}

// WithJobIDLister installs the callback used to infer a job id from the
// caller's currently running jobs (internal/oarstat.ListUserJobIDs in
// production, a stub in tests).
func WithJobIDLister(fn func(ctx context.Context) ([]uint32, error)) Option {
	return func(c *Context) { c.listUserJobIDs = fn }
}

// Detect builds a Context, determining the execution Node by reading the
// local hostname.
func Detect(opts ...Option) (*Context, error) {
	hostname, err := readHostname()
	if err != nil {
		return nil, err
	}

	c := &Context{}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case hostname == "frontend":
		c.Node = NodeFrontend
	default:
		if m, err := registry.LookupByHostname(hostname); err == nil {
			c.Node = NodeMachine
			c.Machine = m
		} else {
			c.Node = NodeUnknown
		}
	}

	return c, nil
}

func readHostname() (string, error) {
	if data, err := os.ReadFile(hostnameFile); err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if v, ok := os.LookupEnv("HOSTNAME"); ok {
		return strings.TrimSpace(v), nil
	}
	return "", nil
}

// ErrMissingJobID is returned when no job id was given and inference is
// disabled.
var ErrMissingJobID = errors.New("missing job id")

// ErrAmbiguousJobID is returned when job id inference finds more than one
// running job.
var ErrAmbiguousJobID = errors.New("cannot infer job id, multiple jobs are running")

// ErrNoRunningJobs is returned when job id inference finds no running jobs.
var ErrNoRunningJobs = errors.New("cannot infer job id, no jobs are running")

// ErrMissingFrontendHostname is returned when a jump host is required but
// was not configured.
var ErrMissingFrontendHostname = errors.New("missing frontend hostname")

// JobID resolves the job id: explicit value if set, otherwise inferred from
// the caller's running jobs if enabled, otherwise an error.
func (c *Context) JobID(ctx context.Context) (uint32, error) {
	if c.jobID != nil {
		return *c.jobID, nil
	}
	if !c.inferJobID {
		return 0, ErrMissingJobID
	}
	if c.listUserJobIDs == nil {
		return 0, ErrMissingJobID
	}

	ids, err := c.listUserJobIDs(ctx)
	if err != nil {
		return 0, err
	}
	switch len(ids) {
	case 0:
		return 0, ErrNoRunningJobs
	case 1:
		return ids[0], nil
	default:
		return 0, ErrAmbiguousJobID
	}
}

// FrontendHostname resolves the jump host, or ErrMissingFrontendHostname.
func (c *Context) FrontendHostname() (string, error) {
	if c.frontendHostname == "" {
		return "", ErrMissingFrontendHostname
	}
	return c.frontendHostname, nil
}
