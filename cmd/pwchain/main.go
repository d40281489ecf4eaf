package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ErlanBelekov/pwchain/internal/cli"
	"github.com/spf13/afero"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRoot(afero.NewOsFs()).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
