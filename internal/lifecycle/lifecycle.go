// Package lifecycle is the Lifecycle Controller: it sequences the Address
// Plan, the Configuration Synthesiser and the Remote Executor into the
// "up"/"down" operations the CLI exposes, plus the pure render-to-text
// adapter used by preview (ApplyScript).
package lifecycle

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	kerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	"github.com/oar-p2p/oar-p2p/internal/addrplan"
	"github.com/oar-p2p/oar-p2p/internal/dockerimage"
	"github.com/oar-p2p/oar-p2p/internal/execctx"
	"github.com/oar-p2p/oar-p2p/internal/executor"
	"github.com/oar-p2p/oar-p2p/internal/latency"
	"github.com/oar-p2p/oar-p2p/internal/metrics"
	"github.com/oar-p2p/oar-p2p/internal/oarstat"
	"github.com/oar-p2p/oar-p2p/internal/policy"
	"github.com/oar-p2p/oar-p2p/internal/registry"
	"github.com/oar-p2p/oar-p2p/internal/synth"
)

// Controller sequences the lifecycle steps against one execution context.
type Controller struct {
	ExecCtx   *execctx.Context
	Transport func(registry.MachineID) (executor.Transport, error)
	Image     string
}

// NewController builds a Controller whose transport resolution goes through
// executor.Resolve for ec.
func NewController(ec *execctx.Context) *Controller {
	return &Controller{
		ExecCtx: ec,
		Transport: func(m registry.MachineID) (executor.Transport, error) {
			return executor.Resolve(ec, m)
		},
		Image: executor.HelperImageTag,
	}
}

// Up runs the full sequence: resolve machines, build the address plan,
// validate and synthesise configs, then build_helper_image, clean and apply
// across every machine in turn.
func (c *Controller) Up(ctx context.Context, matrix *latency.Matrix, pol policy.Policy) error {
	machines, err := oarstat.JobListMachines(ctx, c.ExecCtx)
	if err != nil {
		return pkgerrors.Wrap(err, "resolving job machines")
	}

	plan, err := addrplan.Build(machines, pol)
	if err != nil {
		return pkgerrors.Wrap(err, "building address plan")
	}

	configs, err := synth.Synthesise(machines, plan, matrix, registry.LookupByIndex)
	if err != nil {
		return pkgerrors.Wrap(err, "synthesising configuration")
	}

	if err := c.timedForEach(ctx, "build_helper_image", machines, c.buildHelperImage); err != nil {
		return err
	}
	if err := c.timedForEach(ctx, "clean", machines, c.clean); err != nil {
		return err
	}

	return c.timedForEach(ctx, "apply", machines, func(ctx context.Context, m registry.MachineID) error {
		return c.apply(ctx, m, configs[m])
	})
}

// Down runs steps 1, 4 and 5 of Up: resolve machines, build the helper
// image, and clean. It never touches the synthesiser.
func (c *Controller) Down(ctx context.Context) error {
	machines, err := oarstat.JobListMachines(ctx, c.ExecCtx)
	if err != nil {
		return pkgerrors.Wrap(err, "resolving job machines")
	}

	if err := c.timedForEach(ctx, "build_helper_image", machines, c.buildHelperImage); err != nil {
		return err
	}
	return c.timedForEach(ctx, "clean", machines, c.clean)
}

func (c *Controller) timedForEach(ctx context.Context, step string, machines []registry.MachineID, f func(context.Context, registry.MachineID) error) error {
	start := time.Now()
	klog.V(1).InfoS("starting lifecycle step", "step", step, "machines", len(machines))

	_, err := executor.ForEach(machines, func(m registry.MachineID) (struct{}, error) {
		return struct{}{}, f(ctx, m)
	})

	metrics.ObserveStep(step, time.Since(start), err)
	if err != nil {
		klog.ErrorS(err, "lifecycle step failed", "step", step)
	}
	return err
}

func (c *Controller) buildHelperImage(ctx context.Context, m registry.MachineID) error {
	transport, err := c.Transport(m)
	if err != nil {
		return err
	}
	return dockerimage.Build(ctx, transport, c.Image)
}

func (c *Controller) clean(ctx context.Context, m registry.MachineID) error {
	transport, err := c.Transport(m)
	if err != nil {
		return err
	}

	result, err := executor.RunPrivileged(ctx, transport, c.Image, CleanupScript(m.Interface()))
	if err != nil {
		return err
	}

	if warnings := parseCleanupWarnings(result.Stderr); len(warnings) > 0 {
		if aggErr := aggregateCleanupWarnings(warnings); aggErr != nil {
			klog.ErrorS(aggErr, "cleanup found nothing to remove for one or more commands", "machine", m.Hostname())
		}
	}
	return nil
}

func (c *Controller) apply(ctx context.Context, m registry.MachineID, cfg *synth.MachineConfig) error {
	transport, err := c.Transport(m)
	if err != nil {
		return err
	}

	script := ApplyScript(cfg)
	_, err = executor.RunPrivileged(ctx, transport, c.Image, script)
	return err
}

// aggregateCleanupWarnings reports every swallowed per-command cleanup
// failure as a warning while the script's own exit status still decides the
// returned error, matching the teacher's cmd/ci-clean kerrors.NewAggregate
// idiom for collecting best-effort per-item errors.
func aggregateCleanupWarnings(warnings []error) error {
	if len(warnings) == 0 {
		return nil
	}
	return kerrors.NewAggregate(warnings)
}
