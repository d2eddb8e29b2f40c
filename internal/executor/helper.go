package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// HelperImageTag is the default tag the lifecycle controller builds the
// privileged helper image under and runs it from.
const HelperImageTag = "oar-p2p-helper:latest"

// RunPrivileged feeds script on standard input to a throwaway helper
// container (--net=host --privileged --rm -i) so address/tc/nft commands run
// with CAP_NET_ADMIN and the right userspace tools. A random container name
// keeps concurrent runs on the same machine from colliding.
func RunPrivileged(ctx context.Context, t Transport, image, script string) (Result, error) {
	if image == "" {
		image = HelperImageTag
	}
	name := "oar-p2p-" + uuid.NewString()
	wrapped := fmt.Sprintf(
		"docker run --rm -i --net=host --privileged --name %s %s bash -s <<'OAR_P2P_SCRIPT'\n%s\nOAR_P2P_SCRIPT\n",
		name, image, script,
	)
	return t.Run(ctx, wrapped)
}

// RunHost runs script directly on the target's shell, for steps that need
// no elevated privileges (image build, container orchestration, log
// collection).
func RunHost(ctx context.Context, t Transport, script string) (Result, error) {
	return t.Run(ctx, script)
}
