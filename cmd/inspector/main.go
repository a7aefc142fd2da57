// Command inspector starts the fortistate inspector server: session/role
// enforcement, store fan-out, presence, audit log, telemetry SSE, universe
// registry, config hot-reload. Everything lives in engine.Engine; main only
// wires New/Init/Run together.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fortistate/inspector/engine"
)

func main() {
	ctx := context.Background()

	e, err := engine.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspector: %v\n", err)
		os.Exit(1)
	}

	if err := e.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "inspector: %v\n", err)
		os.Exit(1)
	}

	if err := e.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "inspector: %v\n", err)
		os.Exit(1)
	}
}
