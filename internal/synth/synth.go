// Package synth is the Configuration Synthesiser: the heart of the system.
// For each machine it produces an address/route program, a traffic-control
// program (class tree + netem qdiscs + classifier filters) and an nftables
// firewall-mark map, deterministically, from a LatencyMatrix and an
// AddressPlan. It is pure: no I/O, no remote execution.
package synth

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/oar-p2p/oar-p2p/internal/addrplan"
	"github.com/oar-p2p/oar-p2p/internal/latency"
	"github.com/oar-p2p/oar-p2p/internal/registry"
)

// UnshapedRate is the htb rate given to the default (unmatched) class and
// to every per-bucket class; it is a non-shaping sentinel, not a real
// bandwidth cap (spec.md §9 Open Questions).
const UnshapedRate = "10gbit"

// DefaultClassID is the class every unmatched packet falls into.
const DefaultClassID = 9999

// MachineConfig is the synthesiser's output for one machine.
type MachineConfig struct {
	Addresses  []addrplan.Address
	IPCommands []string
	TCCommands []string
	NFTScript  string
}

// ErrInvariant signals a synthesiser-internal bug: a mark/class/qdisc
// mismatch that should be structurally impossible. It is always fatal.
type ErrInvariant struct {
	Detail string
}

func (e *ErrInvariant) Error() string {
	return fmt.Sprintf("synthesiser invariant violated: %s", e.Detail)
}

// RegistryLookup resolves a MachineID to its registry Entry; synth depends
// on this indirection rather than the registry package's globals directly
// so it stays testable against arbitrary machine tables.
type RegistryLookup func(registry.MachineID) (registry.Entry, error)

// Synthesise produces a MachineConfig for every machine in machines.
func Synthesise(
	machines []registry.MachineID,
	plan *addrplan.Plan,
	matrix *latency.Matrix,
	lookup RegistryLookup,
) (map[registry.MachineID]*MachineConfig, error) {
	if matrix.Dimension() != len(plan.Global) {
		return nil, fmt.Errorf("synth: matrix dimension %d does not match %d global addresses",
			matrix.Dimension(), len(plan.Global))
	}

	result := make(map[registry.MachineID]*MachineConfig, len(machines))
	for _, m := range machines {
		entry, err := lookup(m)
		if err != nil {
			return nil, err
		}

		cfg, err := synthMachine(m, entry, plan, matrix)
		if err != nil {
			return nil, err
		}
		result[m] = cfg
	}
	return result, nil
}

// pairKey identifies one (src, dst) ordered pair of overlay addresses.
type pairKey struct {
	src, dst addrplan.Address
}

func synthMachine(m registry.MachineID, entry registry.Entry, plan *addrplan.Plan, matrix *latency.Matrix) (*MachineConfig, error) {
	owned := plan.PerMachine[m]

	buckets, pairMark, err := bucketise(m, owned, plan, matrix)
	if err != nil {
		return nil, err
	}

	return &MachineConfig{
		Addresses:  owned,
		IPCommands: ipCommands(entry.Interface, owned),
		TCCommands: tcCommands(entry.Interface, buckets),
		NFTScript:  nftScript(owned, plan.Global, pairMark),
	}, nil
}

// bucketise collects every ordered pair (src ∈ owned, dst ∈ plan.Global,
// dst != src), truncates matrix[g(src)][g(dst)] to whole milliseconds, and
// assigns each distinct millisecond value a bucket id in first-seen
// insertion order — the bucket index k = pos+1 doubles as tc class id,
// qdisc handle (k+1) and firewall mark (spec.md §4.3).
func bucketise(
	m registry.MachineID,
	owned []addrplan.Address,
	plan *addrplan.Plan,
	matrix *latency.Matrix,
) (buckets []int, pairMark map[pairKey]int, err error) {
	msToMark := make(map[int]int)
	msToFirst := make(map[int]time.Duration)
	collapsed := make(map[int]bool)
	pairMark = make(map[pairKey]int)

	for _, src := range owned {
		srcIdx, ok := plan.GlobalIndex(src.IP)
		if !ok {
			return nil, nil, &ErrInvariant{Detail: "owned address missing from global index"}
		}

		for _, dst := range plan.Global {
			if dst.IP == src.IP {
				continue
			}
			dstIdx, ok := plan.GlobalIndex(dst.IP)
			if !ok {
				return nil, nil, &ErrInvariant{Detail: "global address missing from global index"}
			}

			d := matrix.Latency(srcIdx, dstIdx)
			ms := latency.TruncMilliseconds(d)

			mark, seen := msToMark[ms]
			if !seen {
				buckets = append(buckets, ms)
				mark = len(buckets) // 1-based
				msToMark[ms] = mark
				msToFirst[ms] = d
			} else if first := msToFirst[ms]; d != first && !collapsed[ms] {
				collapsed[ms] = true
				klog.V(1).InfoS("distinct latencies collapse into one millisecond bucket",
					"machine", m.Hostname(), "bucketMs", ms, "latency", d, "firstLatency", first)
			}

			pairMark[pairKey{src: src, dst: dst}] = mark
		}
	}

	klog.V(1).InfoS("bucketised latencies", "machine", m.Hostname(), "buckets", len(buckets))

	return buckets, pairMark, nil
}

func ipCommands(iface string, owned []addrplan.Address) []string {
	cmds := []string{fmt.Sprintf("route add 10.0.0.0/8 dev %s", iface)}
	for _, a := range owned {
		cmds = append(cmds, fmt.Sprintf("addr add %s/32 dev %s", a.IP, iface))
	}
	return cmds
}

// tcCommands emits the class tree + netem qdiscs + classifier filters for
// both lo and the machine's real interface, in that order.
func tcCommands(iface string, buckets []int) []string {
	var cmds []string
	for _, tcIface := range []string{"lo", iface} {
		cmds = append(cmds,
			fmt.Sprintf("qdisc add dev %s root handle 1: htb default %d", tcIface, DefaultClassID),
			fmt.Sprintf("class add dev %s parent 1: classid 1:%d htb rate %s", tcIface, DefaultClassID, UnshapedRate),
		)
		for i, ms := range buckets {
			k := i + 1
			cmds = append(cmds,
				fmt.Sprintf("class add dev %s parent 1: classid 1:%d htb rate %s", tcIface, k, UnshapedRate),
				fmt.Sprintf("qdisc add dev %s parent 1:%d handle %d: netem delay %dms", tcIface, k, k+1, ms),
				fmt.Sprintf("filter add dev %s parent 1:0 prio 1 handle %d fw flowid 1:%d", tcIface, k, k),
			)
		}
	}
	return cmds
}

// nftScript renders the oar-p2p table: a typed mark_pairs map and a
// postrouting chain. Element order follows the canonical (owned src,
// global dst) enumeration, never map iteration order, so the output is
// byte-identical across runs (Testable Property 1).
func nftScript(owned []addrplan.Address, global []addrplan.Address, pairMark map[pairKey]int) string {
	b := newScriptBuilder()

	b.Block("table ip oar-p2p", func() {
		b.Block("map mark_pairs", func() {
			b.WriteLine("type ipv4_addr . ipv4_addr : mark")
			writeElements(b, owned, global, pairMark)
		})

		b.Block("chain postrouting", func() {
			b.WriteLine("type filter hook postrouting priority mangle - 1; policy accept;")
			b.WriteLine("meta mark set ip saddr . ip daddr map @mark_pairs counter")
		})
	})

	return b.String()
}

func writeElements(b *scriptBuilder, owned, global []addrplan.Address, pairMark map[pairKey]int) {
	type element struct {
		src, dst addrplan.Address
		mark     int
	}
	var elements []element
	for _, src := range owned {
		for _, dst := range global {
			if dst.IP == src.IP {
				continue
			}
			mark, ok := pairMark[pairKey{src: src, dst: dst}]
			if !ok {
				continue
			}
			elements = append(elements, element{src: src, dst: dst, mark: mark})
		}
	}

	if len(elements) == 0 {
		b.WriteLine("elements = {}")
		return
	}

	b.WriteLine("elements = {")
	b.indent++
	for i, e := range elements {
		suffix := ","
		if i == len(elements)-1 {
			suffix = ""
		}
		b.WriteLinef("%s . %s : %d%s", e.src.IP, e.dst.IP, e.mark, suffix)
	}
	b.indent--
	b.WriteLine("}")
}
