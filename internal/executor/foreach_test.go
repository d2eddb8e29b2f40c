package executor_test

import (
	"os"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/oar-p2p/oar-p2p/internal/executor"
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

// S6 — one machine fails, error names its hostname, other results discarded
// without a crash.
func TestForEachAnnotatesFailingMachine(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")
	gengar2 := mustMachine(t, "gengar-2")
	gengar3 := mustMachine(t, "gengar-3")
	machines := []registry.MachineID{gengar1, gengar2, gengar3}

	_, err := executor.ForEach(machines, func(m registry.MachineID) (string, error) {
		if m == gengar2 {
			return "", errOops
		}
		return "ok", nil
	})

	g.Expect(err).To(HaveOccurred())
	var remoteErr *executor.ErrRemoteFailed
	g.Expect(err).To(BeAssignableToTypeOf(remoteErr))
	g.Expect(err.(*executor.ErrRemoteFailed).Hostname).To(Equal("gengar-2"))
}

func TestForEachAllSucceed(t *testing.T) {
	g := NewWithT(t)
	gengar1 := mustMachine(t, "gengar-1")
	gengar2 := mustMachine(t, "gengar-2")
	machines := []registry.MachineID{gengar1, gengar2}

	results, err := executor.ForEach(machines, func(m registry.MachineID) (int, error) {
		return int(m), nil
	})

	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(results).To(HaveLen(2))
}

func TestConcurrencyLimitFromEnv(t *testing.T) {
	g := NewWithT(t)
	g.Expect(os.Setenv("OAR_P2P_CONCURRENCY_LIMIT", "1")).To(Succeed())
	defer os.Unsetenv("OAR_P2P_CONCURRENCY_LIMIT")

	gengar1 := mustMachine(t, "gengar-1")
	gengar2 := mustMachine(t, "gengar-2")
	gengar3 := mustMachine(t, "gengar-3")
	machines := []registry.MachineID{gengar1, gengar2, gengar3}

	results, err := executor.ForEach(machines, func(m registry.MachineID) (int, error) {
		return int(m), nil
	})

	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(results).To(HaveLen(3))
}

var errOops = &stubError{"oops"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
