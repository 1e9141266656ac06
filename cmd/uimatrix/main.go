// Command uimatrix inspects scenario matrices, storage-state files and run
// reports, and captures the login state browser runs start from.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/obs"
)

func main() {
	obs.Init()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(errs.ExitCode(errs.CodeOf(err)))
	}
}
