// Command pupstore runs the changeset event store.
//
// Usage:
//
//	pupstore serve --config pupstore.yaml
//	echo '{"events":[{"type":"init"}]}' | pupstore commit --stream order-1
//	pupstore index
//	pupstore read global --from 1 --limit 50
//
// Every setting can also be given as a PUPSTORE_ environment variable, e.g.
// PUPSTORE_STORAGE_DRIVER=postgres PUPSTORE_STORAGE_DSN=postgres://...
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/getpup/pupstore/internal/cli"
)

func main() {
	if err := cli.NewRoot().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
