// Command surreal-sync transfers data from a source database into a
// target SurrealDB instance through a full dump bridged by an
// incremental replay, so that from a well-defined instant the target is
// a faithful reflection of the source even when the source offers no
// snapshot isolation.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("surreal-sync failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
