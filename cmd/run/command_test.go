package run

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/oar-p2p/oar-p2p/internal/cliconfig"
)

func TestCommandWiresFlagsAndArgs(t *testing.T) {
	g := NewWithT(t)

	c := &Command{Config: &cliconfig.Config{}}
	cmd := c.Command()

	g.Expect(cmd.Use).To(Equal("run [schedule-path]"))
	g.Expect(cmd.Flags().Lookup("output-dir")).NotTo(BeNil())
	g.Expect(cmd.Flags().Lookup("addr-per-cpu")).NotTo(BeNil())
	g.Expect(cmd.Args).NotTo(BeNil())
}
