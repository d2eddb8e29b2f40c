// Package registry holds the compile-time table mapping cluster hostnames
// to a stable numeric index, CPU count and outbound interface.
package registry

import "fmt"

// MachineID is a dense index into the registry's entry table. It is also
// embedded verbatim as the second octet of every overlay address the
// machine owns, so it must fit in one octet.
type MachineID uint8

// Entry describes one registered cluster machine.
type Entry struct {
	Hostname  string
	CPUs      uint32
	Interface string
}

// entries is the compile-time machine table. Index in the slice is the
// MachineID. Hostnames, cpu counts and interfaces are carried over from
// the cluster's node inventory (oarnodes | grep '^network_address' | cut
// -d' ' -f3 | sort | uniq -c) the same way the original allocator keeps
// it.
var entries = []Entry{
	{"alakazam-01", 64, "bond0"},
	{"alakazam-02", 64, "bond0"},
	{"alakazam-03", 64, "bond0"},
	{"alakazam-04", 64, "bond0"},
	{"alakazam-05", 64, "bond0"},
	{"alakazam-06", 64, "bond0"},
	{"alakazam-07", 64, "bond0"},
	{"alakazam-08", 64, "bond0"},
	{"bulbasaur-1", 16, "bond0"},
	{"bulbasaur-2", 16, "bond0"},
	{"bulbasaur-3", 16, "bond0"},
	{"charmander-1", 32, "bond0"},
	{"charmander-2", 32, "bond0"},
	{"charmander-3", 32, "bond0"},
	{"charmander-4", 32, "bond0"},
	{"charmander-5", 32, "bond0"},
	{"gengar-1", 8, "bond0"},
	{"gengar-2", 8, "bond0"},
	{"gengar-3", 8, "bond0"},
	{"gengar-4", 8, "bond0"},
	{"gengar-5", 8, "bond0"},
	{"kadabra-01", 64, "bond0"},
	{"kadabra-02", 64, "bond0"},
	{"kadabra-03", 64, "bond0"},
	{"kadabra-04", 64, "bond0"},
	{"kadabra-05", 64, "bond0"},
	{"kadabra-06", 64, "bond0"},
	{"kadabra-07", 64, "bond0"},
	{"kadabra-08", 64, "bond0"},
	{"lugia-1", 64, "bond0"},
	{"lugia-2", 64, "bond0"},
	{"lugia-3", 64, "bond0"},
	{"lugia-4", 64, "bond0"},
	{"lugia-5", 64, "bond0"},
	{"magikarp-1", 16, "bond0"},
	{"moltres-01", 64, "bond0"},
	{"moltres-02", 64, "bond0"},
	{"moltres-03", 64, "bond0"},
	{"moltres-04", 64, "bond0"},
	{"moltres-05", 64, "bond0"},
	{"moltres-06", 64, "bond0"},
	{"moltres-07", 64, "bond0"},
	{"moltres-08", 64, "bond0"},
	{"moltres-09", 64, "bond0"},
	{"moltres-10", 64, "bond0"},
	{"oddish-1", 4, "bond0"},
	{"psyduck-1", 8, "bond0"},
	{"psyduck-2", 8, "bond0"},
	{"psyduck-3", 8, "bond0"},
	{"shelder-1", 64, "bond0"},
	{"squirtle-1", 24, "bond0"},
	{"squirtle-2", 24, "bond0"},
	{"squirtle-3", 24, "bond0"},
	{"squirtle-4", 24, "bond0"},
	{"staryu-1", 12, "bond0"},
	{"sudowoodo-1", 16, "bond0"},
	{"vulpix-1", 112, "bond0"},
	{"snorlax-01", 64, "bond0"},
	{"snorlax-02", 64, "bond0"},
	{"snorlax-03", 64, "bond0"},
}

var byHostname = func() map[string]MachineID {
	m := make(map[string]MachineID, len(entries))
	for i, e := range entries {
		m[e.Hostname] = MachineID(i)
	}
	return m
}()

// ErrUnknownMachine is returned when a hostname or index does not resolve
// to a registered machine.
type ErrUnknownMachine struct {
	Query string
}

func (e *ErrUnknownMachine) Error() string {
	return fmt.Sprintf("unknown machine: %s", e.Query)
}

// LookupByHostname resolves a hostname to its MachineID.
func LookupByHostname(hostname string) (MachineID, error) {
	id, ok := byHostname[hostname]
	if !ok {
		return 0, &ErrUnknownMachine{Query: hostname}
	}
	return id, nil
}

// LookupByIndex resolves a MachineID to its Entry.
func LookupByIndex(id MachineID) (Entry, error) {
	if int(id) >= len(entries) {
		return Entry{}, &ErrUnknownMachine{Query: fmt.Sprintf("index %d", id)}
	}
	return entries[id], nil
}

// Hostname is a convenience accessor equivalent to LookupByIndex(id).Hostname.
func (id MachineID) Hostname() string {
	e, err := LookupByIndex(id)
	if err != nil {
		return fmt.Sprintf("<invalid machine %d>", uint8(id))
	}
	return e.Hostname
}

// CPUs is a convenience accessor.
func (id MachineID) CPUs() uint32 {
	e, err := LookupByIndex(id)
	if err != nil {
		return 0
	}
	return e.CPUs
}

// Interface is a convenience accessor.
func (id MachineID) Interface() string {
	e, err := LookupByIndex(id)
	if err != nil {
		return ""
	}
	return e.Interface
}

// Count returns the number of registered machines.
func Count() int {
	return len(entries)
}

// MaxIndex is the largest MachineID the registry can hold (one octet).
const MaxIndex = 254
