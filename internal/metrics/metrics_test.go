package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStepRecordsSuccessAndFailure(t *testing.T) {
	g := NewWithT(t)

	ObserveStep("apply-test", 10*time.Millisecond, nil)
	ObserveStep("apply-test", 20*time.Millisecond, errors.New("boom"))

	g.Expect(testutil.ToFloat64(stepResult.WithLabelValues("apply-test", "success"))).To(Equal(float64(1)))
	g.Expect(testutil.ToFloat64(stepResult.WithLabelValues("apply-test", "failure"))).To(Equal(float64(1)))
	g.Expect(testutil.CollectAndCount(stepDuration)).To(BeNumerically(">", 0))
}

func TestServeNoopWhenAddrEmpty(t *testing.T) {
	g := NewWithT(t)
	g.Expect(Serve(context.Background(), "")).To(Succeed())
}
