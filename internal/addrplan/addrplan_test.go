package addrplan_test

import (
	"net/netip"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/oar-p2p/oar-p2p/internal/addrplan"
	"github.com/oar-p2p/oar-p2p/internal/policy"
	"github.com/oar-p2p/oar-p2p/internal/registry"
)

func mustMachine(t *testing.T, hostname string) registry.MachineID {
	t.Helper()
	id, err := registry.LookupByHostname(hostname)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestBuildPerMachineSingleAddress(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")

	plan, err := addrplan.Build([]registry.MachineID{gengar1}, policy.PerMachine(1))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(plan.Global).To(HaveLen(1))
	g.Expect(plan.Global[0].IP).To(Equal(netip.MustParseAddr("10.16.0.1")))
}

func TestBuildTwoMachinesOneEach(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")
	gengar2 := mustMachine(t, "gengar-2")

	plan, err := addrplan.Build([]registry.MachineID{gengar1, gengar2}, policy.PerMachine(1))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(plan.Global).To(HaveLen(2))
	g.Expect(plan.Global[0].IP).To(Equal(netip.MustParseAddr("10.16.0.1")))
	g.Expect(plan.Global[1].IP).To(Equal(netip.MustParseAddr("10.17.0.1")))

	idx0, ok := plan.GlobalIndex(plan.Global[0].IP)
	g.Expect(ok).To(BeTrue())
	g.Expect(idx0).To(Equal(0))

	idx1, ok := plan.GlobalIndex(plan.Global[1].IP)
	g.Expect(ok).To(BeTrue())
	g.Expect(idx1).To(Equal(1))
}

func TestBuildAddressIndexWrap(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")

	plan, err := addrplan.Build([]registry.MachineID{gengar1}, policy.PerMachine(255))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(plan.Global).To(HaveLen(255))

	g.Expect(plan.Global[0].IP).To(Equal(netip.MustParseAddr("10.16.0.1")))
	g.Expect(plan.Global[253].IP).To(Equal(netip.MustParseAddr("10.16.0.254")))
	g.Expect(plan.Global[254].IP).To(Equal(netip.MustParseAddr("10.16.1.1")))
}

func TestBuildPerCPU(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1") // 8 cpus

	plan, err := addrplan.Build([]registry.MachineID{gengar1}, policy.PerCPU(2))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(plan.PerMachine[gengar1]).To(HaveLen(16))
}

func TestBuildTotalApportionment(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")
	gengar2 := mustMachine(t, "gengar-2")
	gengar3 := mustMachine(t, "gengar-3")

	plan, err := addrplan.Build([]registry.MachineID{gengar1, gengar2, gengar3}, policy.Total(10))
	g.Expect(err).NotTo(HaveOccurred())
	// ceil(10/3) = 4 per machine, uniformly, even though 4*3=12 > 10.
	g.Expect(plan.PerMachine[gengar1]).To(HaveLen(4))
	g.Expect(plan.PerMachine[gengar2]).To(HaveLen(4))
	g.Expect(plan.PerMachine[gengar3]).To(HaveLen(4))
}

func TestBuildAddressCountOverflow(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")

	_, err := addrplan.Build([]registry.MachineID{gengar1}, policy.PerMachine(254*254+1))
	g.Expect(err).To(HaveOccurred())
	var overflow *addrplan.ErrAddressCountOverflow
	g.Expect(err).To(BeAssignableToTypeOf(overflow))
}

func TestGlobalAddressesAreDistinct(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")
	gengar2 := mustMachine(t, "gengar-2")

	plan, err := addrplan.Build([]registry.MachineID{gengar1, gengar2}, policy.PerMachine(3))
	g.Expect(err).NotTo(HaveOccurred())

	seen := make(map[netip.Addr]bool)
	for _, a := range plan.Global {
		g.Expect(seen).NotTo(HaveKey(a.IP))
		seen[a.IP] = true
	}
}
