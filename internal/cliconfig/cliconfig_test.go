package cliconfig_test

import (
	"os"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/oar-p2p/oar-p2p/internal/cliconfig"
)

func TestBindFlagsDefaultsFromEnv(t *testing.T) {
	g := NewWithT(t)

	g.Expect(os.Setenv("OAR_JOB_ID", "123")).To(Succeed())
	defer os.Unsetenv("OAR_JOB_ID")
	g.Expect(os.Setenv("FRONTEND_HOSTNAME", "frontend.example")).To(Succeed())
	defer os.Unsetenv("FRONTEND_HOSTNAME")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var c cliconfig.Config
	cliconfig.BindFlags(fs, &c)

	g.Expect(fs.Parse(nil)).To(Succeed())
	g.Expect(c.JobID).To(Equal(uint32(123)))
	g.Expect(c.FrontendHostname).To(Equal("frontend.example"))
	g.Expect(c.HasJobID()).To(BeTrue())
}

func TestBindFlagsOverridesEnv(t *testing.T) {
	g := NewWithT(t)

	g.Expect(os.Setenv("OAR_JOB_ID", "123")).To(Succeed())
	defer os.Unsetenv("OAR_JOB_ID")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var c cliconfig.Config
	cliconfig.BindFlags(fs, &c)

	g.Expect(fs.Parse([]string{"--job-id", "999"})).To(Succeed())
	g.Expect(c.JobID).To(Equal(uint32(999)))
}

func TestHasJobIDFalseWhenZero(t *testing.T) {
	g := NewWithT(t)
	os.Unsetenv("OAR_JOB_ID")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var c cliconfig.Config
	cliconfig.BindFlags(fs, &c)
	g.Expect(fs.Parse(nil)).To(Succeed())

	g.Expect(c.HasJobID()).To(BeFalse())
}

func TestApplyConcurrencyLimit(t *testing.T) {
	g := NewWithT(t)
	defer os.Unsetenv("OAR_P2P_CONCURRENCY_LIMIT")

	c := cliconfig.Config{ConcurrencyLimit: 4}
	g.Expect(c.ApplyConcurrencyLimit()).To(Succeed())
	g.Expect(os.Getenv("OAR_P2P_CONCURRENCY_LIMIT")).To(Equal("4"))
}
