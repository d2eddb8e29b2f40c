package latency_test

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/oar-p2p/oar-p2p/internal/latency"
)

func TestParseBasic(t *testing.T) {
	g := NewWithT(t)

	m, err := latency.Parse("0 5\n5 0\n", latency.Milliseconds)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(m.Dimension()).To(Equal(2))
	g.Expect(m.Latency(0, 1)).To(Equal(5 * time.Millisecond))
	g.Expect(m.Latency(1, 0)).To(Equal(5 * time.Millisecond))
}

func TestParseLeadingTrailingWhitespace(t *testing.T) {
	g := NewWithT(t)

	m, err := latency.Parse("  0   5  \n\n 5 0 \n", latency.Milliseconds)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(m.Dimension()).To(Equal(2))
}

func TestParseEmptyContent(t *testing.T) {
	g := NewWithT(t)

	m, err := latency.Parse("", latency.Milliseconds)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(m.Dimension()).To(Equal(0))
}

func TestParseDimensionMismatch(t *testing.T) {
	g := NewWithT(t)

	_, err := latency.Parse("0 5\n5 0 1\n", latency.Milliseconds)
	g.Expect(err).To(HaveOccurred())
	var dimErr *latency.ErrLineDimension
	g.Expect(err).To(BeAssignableToTypeOf(dimErr))
}

func TestParseInvalidToken(t *testing.T) {
	g := NewWithT(t)

	_, err := latency.Parse("0 abc\nabc 0\n", latency.Milliseconds)
	g.Expect(err).To(HaveOccurred())
	var valErr *latency.ErrLatencyValue
	g.Expect(err).To(BeAssignableToTypeOf(valErr))
}

func TestParseNegativeRejected(t *testing.T) {
	g := NewWithT(t)

	_, err := latency.Parse("0 -5\n-5 0\n", latency.Milliseconds)
	g.Expect(err).To(HaveOccurred())
}

func TestParseSecondsUnit(t *testing.T) {
	g := NewWithT(t)

	m, err := latency.Parse("0 0.005\n0.005 0\n", latency.Seconds)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(m.Latency(0, 1)).To(Equal(5 * time.Millisecond))
}

func TestFormatRoundTrip(t *testing.T) {
	g := NewWithT(t)

	m, err := latency.Parse("0 5 10\n5 0 7\n10 7 0\n", latency.Milliseconds)
	g.Expect(err).NotTo(HaveOccurred())

	text := m.Format(latency.Milliseconds)
	roundTripped, err := latency.Parse(text, latency.Milliseconds)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(roundTripped.Dimension()).To(Equal(m.Dimension()))
	for r := 0; r < m.Dimension(); r++ {
		for c := 0; c < m.Dimension(); c++ {
			g.Expect(roundTripped.Latency(r, c)).To(Equal(m.Latency(r, c)))
		}
	}
}

func TestTruncMilliseconds(t *testing.T) {
	g := NewWithT(t)

	g.Expect(latency.TruncMilliseconds(4999 * time.Microsecond)).To(Equal(4))
	g.Expect(latency.TruncMilliseconds(5000 * time.Microsecond)).To(Equal(5))
	g.Expect(latency.TruncMilliseconds(0)).To(Equal(0))
}
