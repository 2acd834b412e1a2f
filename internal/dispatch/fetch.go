package dispatch

import (
	"context"
	"io"

	"github.com/thilo-hub/ippsample/internal/fetch"
)

// fetchDispatch adapts internal/fetch's scheme-specific functions to
// the dispatcher's allow-listed directory configuration.
func fetchDispatch(ctx context.Context, scheme, path string, allowedDirs []string, w io.Writer) error {
	return fetch.URI(ctx, scheme, path, allowedDirs, w)
}
