// Package policy implements the address-allocation policy sum type:
// PerCpu(n), PerMachine(n) and Total(n).
package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Policy is a closed tagged union over the three allocation strategies.
// Prefer this interface plus unexported structs over an open hierarchy, per
// spec.md §9 "Polymorphism".
type Policy interface {
	// PerMachineCount returns the number of addresses machine m should be
	// given out of machineCount total machines with cpus CPUs.
	PerMachineCount(cpus uint32, machineCount int) int
	fmt.Stringer
	isPolicy()
}

type perCPU struct{ n uint32 }

func (p perCPU) PerMachineCount(cpus uint32, _ int) int { return int(p.n) * int(cpus) }
func (p perCPU) String() string                         { return fmt.Sprintf("%d/cpu", p.n) }
func (perCPU) isPolicy()                                {}

type perMachine struct{ n uint32 }

func (p perMachine) PerMachineCount(_ uint32, _ int) int { return int(p.n) }
func (p perMachine) String() string                      { return fmt.Sprintf("%d/machine", p.n) }
func (perMachine) isPolicy()                             {}

type total struct{ n uint32 }

func (p total) PerMachineCount(_ uint32, machineCount int) int {
	if machineCount <= 0 {
		return 0
	}
	// ceil(n / machineCount), uniform apportionment across every machine.
	return (int(p.n) + machineCount - 1) / machineCount
}
func (p total) String() string { return fmt.Sprintf("%d", p.n) }
func (total) isPolicy()        {}

// PerCPU constructs a PerCpu(n) policy.
func PerCPU(n uint32) Policy { return perCPU{n: n} }

// PerMachine constructs a PerMachine(n) policy.
func PerMachine(n uint32) Policy { return perMachine{n: n} }

// Total constructs a Total(n) policy.
func Total(n uint32) Policy { return total{n: n} }

// ErrInvalidPolicy is returned when a string does not parse as a policy.
type ErrInvalidPolicy struct {
	Input string
	Cause error
}

func (e *ErrInvalidPolicy) Error() string {
	return fmt.Sprintf("invalid address allocation policy %q: %v", e.Input, e.Cause)
}

func (e *ErrInvalidPolicy) Unwrap() error { return e.Cause }

// Parse parses "<n>/cpu", "<n>/machine" or "<n>" into a Policy. n must be a
// valid base-10 uint32; no surrounding whitespace is tolerated, matching
// original_source/src/address_allocation_policy.rs.
func Parse(s string) (Policy, error) {
	if n, ok := strings.CutSuffix(s, "/cpu"); ok {
		v, err := strconv.ParseUint(n, 10, 32)
		if err != nil {
			return nil, &ErrInvalidPolicy{Input: s, Cause: err}
		}
		return PerCPU(uint32(v)), nil
	}
	if n, ok := strings.CutSuffix(s, "/machine"); ok {
		v, err := strconv.ParseUint(n, 10, 32)
		if err != nil {
			return nil, &ErrInvalidPolicy{Input: s, Cause: err}
		}
		return PerMachine(uint32(v)), nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil, &ErrInvalidPolicy{Input: s, Cause: err}
	}
	return Total(uint32(v)), nil
}
