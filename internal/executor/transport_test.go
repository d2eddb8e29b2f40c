package executor_test

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/oar-p2p/oar-p2p/internal/execctx"
	"github.com/oar-p2p/oar-p2p/internal/executor"
)

func TestResolveFromFrontendDialsDirectly(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")

	ec := &execctx.Context{Node: execctx.NodeFrontend}
	tr, err := executor.Resolve(ec, gengar1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tr.Hostname()).To(Equal("gengar-1"))
}

func TestResolveFromSelfRunsLocally(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")

	ec := &execctx.Context{Node: execctx.NodeMachine, Machine: gengar1}
	tr, err := executor.Resolve(ec, gengar1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tr.Hostname()).To(Equal("gengar-1"))
}

func TestResolveFromMachineToAnotherDialsSSH(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")
	gengar2 := mustMachine(t, "gengar-2")

	ec := &execctx.Context{Node: execctx.NodeMachine, Machine: gengar1}
	tr, err := executor.Resolve(ec, gengar2)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tr.Hostname()).To(Equal("gengar-2"))
}

func TestResolveFromUnknownRequiresFrontendHostname(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")

	ec := &execctx.Context{Node: execctx.NodeUnknown}
	_, err := executor.Resolve(ec, gengar1)
	g.Expect(err).To(MatchError(execctx.ErrMissingFrontendHostname))
}

func TestResolveFromUnknownWithFrontendHostname(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")

	ec, err := execctx.Detect(execctx.WithFrontendHostname("frontend.example"))
	g.Expect(err).NotTo(HaveOccurred())
	ec.Node = execctx.NodeUnknown

	tr, err := executor.Resolve(ec, gengar1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tr.Hostname()).To(Equal("gengar-1"))
}
