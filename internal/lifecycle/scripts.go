package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oar-p2p/oar-p2p/internal/synth"
)

// ApplyScript renders cfg's ip/tc commands and nft script into one shell
// program the privileged helper container runs on standard input.
func ApplyScript(cfg *synth.MachineConfig) string {
	var b strings.Builder
	for _, c := range cfg.IPCommands {
		fmt.Fprintf(&b, "ip %s\n", c)
	}
	for _, c := range cfg.TCCommands {
		fmt.Fprintf(&b, "tc %s\n", c)
	}
	b.WriteString("nft -f - <<'OAR_P2P_NFT'\n")
	b.WriteString(cfg.NFTScript)
	b.WriteString("OAR_P2P_NFT\n")
	return b.String()
}

// warnPrefix marks a swallowed cleanup-command failure on stderr so the
// caller can surface it as a warning without aborting the script.
const warnPrefix = "WARN:"

// CleanupScript renders the idempotent cleanup program for iface: every
// command that fails because there was nothing left to remove reports a
// warnPrefix line on stderr instead of aborting the script, matching
// §4.4's ignore-failure list.
func CleanupScript(iface string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ip route del 10.0.0.0/8 dev %s || echo '%s route del 10.0.0.0/8' >&2\n", iface, warnPrefix)
	fmt.Fprintf(&b,
		"for addr in $(ip -4 -o addr show dev %s | grep -oE '10\\.[0-9]+\\.[0-9]+\\.[0-9]+/32'); do ip addr del \"$addr\" dev %s || echo \"%s addr del $addr\" >&2; done\n",
		iface, iface, warnPrefix)

	for _, tcIface := range []string{iface, "lo"} {
		fmt.Fprintf(&b, "tc qdisc del dev %s root || echo '%s tc qdisc del %s root' >&2\n", tcIface, warnPrefix, tcIface)
		fmt.Fprintf(&b, "tc qdisc del dev %s ingress || echo '%s tc qdisc del %s ingress' >&2\n", tcIface, warnPrefix, tcIface)
	}

	fmt.Fprintf(&b, "nft delete table ip oar-p2p || echo '%s nft delete table oar-p2p' >&2\n", warnPrefix)
	return b.String()
}

// parseCleanupWarnings extracts one error per warnPrefix line in stderr.
func parseCleanupWarnings(stderr string) []error {
	var warnings []error
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, warnPrefix); ok {
			warnings = append(warnings, errors.New(strings.TrimSpace(rest)))
		}
	}
	return warnings
}
