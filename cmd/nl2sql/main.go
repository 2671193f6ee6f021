package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/liumaishenjian/natural-language-to-sql/internal/cli/nl2sql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := nl2sql.Run(ctx, os.Args[1:], nl2sql.Options{
		Lookup: os.LookupEnv,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
