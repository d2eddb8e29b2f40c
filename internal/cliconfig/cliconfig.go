// Package cliconfig binds the flags and environment variables every
// subcommand shares: job id, frontend hostname, concurrency limit, nodefile
// path and metrics address. It performs no parsing logic of its own beyond
// flag/env wiring; the values it produces are handed to execctx and
// executor as-is.
package cliconfig

import (
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

// Config holds every flag/env-bound value shared by the net and run
// subcommands.
type Config struct {
	JobID            uint32
	InferJobID       bool
	FrontendHostname string
	ConcurrencyLimit int
	Nodefile         string
	MetricsAddr      string
}

const (
	envJobID            = "OAR_JOB_ID"
	envFrontendHostname = "FRONTEND_HOSTNAME"
	envConcurrencyLimit = "OAR_P2P_CONCURRENCY_LIMIT"
	envNodefile         = "OAR_NODEFILE"
)

// BindFlags registers every shared flag on fs, matching the teacher's
// PersistentFlags().StringVar idiom in cmd/helper/main.go, seeding defaults
// from the environment variables the distilled spec names. Flags are bound
// directly to c's fields, so values are only meaningful once fs has parsed
// the command line (cobra's PersistentPreRunE is the usual place to read
// them).
func BindFlags(fs *pflag.FlagSet, c *Config) {
	fs.Uint32Var(&c.JobID, "job-id", envUint32(envJobID, 0),
		"OAR job id to resolve machines for. Defaults to "+envJobID+".")
	fs.StringVar(&c.FrontendHostname, "frontend-hostname", os.Getenv(envFrontendHostname),
		"Jump host used when running from outside the cluster. Defaults to "+envFrontendHostname+".")
	fs.IntVar(&c.ConcurrencyLimit, "concurrency-limit", envInt(envConcurrencyLimit, 0),
		"Maximum number of machines to act on concurrently; 0 means unbounded. Defaults to "+envConcurrencyLimit+".")
	fs.StringVar(&c.Nodefile, "nodefile", os.Getenv(envNodefile),
		"Path to the OAR nodefile, read when running from a cluster machine. Defaults to "+envNodefile+".")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", "",
		"Address to serve Prometheus metrics on; empty disables the server.")
	fs.BoolVar(&c.InferJobID, "infer-job-id", false,
		"Infer the job id from the caller's currently running jobs when --job-id is not set.")
}

// HasJobID reports whether --job-id (or OAR_JOB_ID) was set to a non-zero
// value after flag parsing.
func (c *Config) HasJobID() bool {
	return c.JobID != 0
}

// ApplyConcurrencyLimit exports ConcurrencyLimit through the same
// environment variable internal/executor reads, so a flag value always
// takes effect even when the process was not launched with the env var set.
func (c *Config) ApplyConcurrencyLimit() error {
	if c.ConcurrencyLimit <= 0 {
		return nil
	}
	return os.Setenv(envConcurrencyLimit, strconv.Itoa(c.ConcurrencyLimit))
}

func envUint32(name string, fallback uint32) uint32 {
	return uint32(envInt(name, int(fallback)))
}

func envInt(name string, fallback int) int {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
