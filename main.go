package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/cli"
	"github.com/ekaya-inc/ekaya-tables/pkg/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, Version); err != nil {
		kind := apperrors.Kind(err)
		if !apperrors.Classified(err) {
			kind = "error"
		}
		fmt.Fprintf(os.Stderr, "%s: %s\n", kind, logging.SanitizeError(err))
		stop()
		os.Exit(1)
	}
}
