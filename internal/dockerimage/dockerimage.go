// Package dockerimage builds the fixed privileged helper image every
// lifecycle step other than the initial list/plan stages depends on: an
// Alpine base carrying the userspace tools the generated scripts invoke.
package dockerimage

import (
	"context"
	"fmt"

	"github.com/oar-p2p/oar-p2p/internal/executor"
)

// Recipe is the fixed Dockerfile for the privileged helper container.
const Recipe = `FROM alpine:3.20
RUN apk add --no-cache iproute2 nftables bash grep
ENTRYPOINT ["bash"]
`

// Build pipes Recipe into "docker build" over transport, tagging the result
// as tag, so build_helper_image is a regular fan-out task alongside
// clean/apply.
func Build(ctx context.Context, transport executor.Transport, tag string) error {
	script := fmt.Sprintf(
		"docker build -t %s -f - . <<'OAR_P2P_DOCKERFILE'\n%s\nOAR_P2P_DOCKERFILE\n",
		tag, Recipe,
	)
	_, err := executor.RunHost(ctx, transport, script)
	return err
}
