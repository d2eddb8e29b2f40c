// Package addrplan computes the global and per-machine overlay address
// enumeration for a set of cluster machines under an AddressAllocationPolicy.
package addrplan

import (
	"fmt"
	"net/netip"

	"github.com/oar-p2p/oar-p2p/internal/policy"
	"github.com/oar-p2p/oar-p2p/internal/registry"
)

// maxLocalIndex is the largest number of addresses a single machine may be
// given: two free octets (c, d with d in [1,254]) give 254*254 slots.
const maxLocalIndex = 254 * 254

// Address is one overlay IPv4 address together with the machine that owns
// it and its local sequence number within that machine.
type Address struct {
	IP         netip.Addr
	Machine    registry.MachineID
	LocalIndex int
}

// Plan is the result of allocating overlay addresses across a set of
// machines.
type Plan struct {
	// Global is every address in enumeration order: machines in caller
	// order, then local indices 0..Nm-1 within each machine.
	Global []Address
	// PerMachine is the subset of Global owned by each machine, in the same
	// relative order.
	PerMachine map[registry.MachineID][]Address
	// indexOf maps an address to its position in Global.
	indexOf map[netip.Addr]int
}

// GlobalIndex returns the position of addr within Plan.Global, which is
// also its row/column index into the LatencyMatrix.
func (p *Plan) GlobalIndex(addr netip.Addr) (int, bool) {
	idx, ok := p.indexOf[addr]
	return idx, ok
}

// ErrIndexOverflow is returned when a machine's registry index exceeds
// registry.MaxIndex (254), the largest value allowed in the address's
// second octet.
type ErrIndexOverflow struct {
	Machine registry.MachineID
}

func (e *ErrIndexOverflow) Error() string {
	return fmt.Sprintf("machine index %d exceeds the maximum of %d", uint8(e.Machine), registry.MaxIndex)
}

// ErrAddressCountOverflow is returned when a machine would need more
// addresses than the two free octets can enumerate.
type ErrAddressCountOverflow struct {
	Machine registry.MachineID
	Count   int
}

func (e *ErrAddressCountOverflow) Error() string {
	return fmt.Sprintf("machine %s requires %d addresses, exceeding the 254*254 limit",
		e.Machine.Hostname(), e.Count)
}

// Build computes the address plan for machines (in caller-supplied order)
// under pol.
func Build(machines []registry.MachineID, pol policy.Policy) (*Plan, error) {
	plan := &Plan{
		PerMachine: make(map[registry.MachineID][]Address, len(machines)),
		indexOf:    make(map[netip.Addr]int),
	}

	for _, m := range machines {
		if uint8(m) > registry.MaxIndex {
			return nil, &ErrIndexOverflow{Machine: m}
		}

		count := pol.PerMachineCount(m.CPUs(), len(machines))
		if count > maxLocalIndex {
			return nil, &ErrAddressCountOverflow{Machine: m, Count: count}
		}

		addrs := make([]Address, 0, count)
		for i := 0; i < count; i++ {
			ip := formatAddress(m, i)
			addrs = append(addrs, Address{IP: ip, Machine: m, LocalIndex: i})
			plan.indexOf[ip] = len(plan.Global) + len(addrs) - 1
		}

		plan.PerMachine[m] = addrs
		plan.Global = append(plan.Global, addrs...)
	}

	return plan, nil
}

// formatAddress implements the 10.machineIndex.c.d packing from spec.md §3:
// c = i / 254, d = (i mod 254) + 1.
func formatAddress(m registry.MachineID, localIndex int) netip.Addr {
	c := localIndex / 254
	d := (localIndex % 254) + 1
	return netip.AddrFrom4([4]byte{10, uint8(m), uint8(c), uint8(d)})
}
