package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fepitre/debian-snapshot/internal/index"
	"github.com/fepitre/debian-snapshot/internal/logging"
	"github.com/fepitre/debian-snapshot/internal/query"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-interrupt:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:  "snapshot-api",
		Usage: "serve the read-only JSON query API (spec.md §6) over a temporal index",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Required: true, Usage: "path to the sqlite index database"},
			&cli.StringFlag{Name: "listen", Value: "127.0.0.1:8080", Usage: "HTTP listen address"},
			&cli.BoolFlag{Name: "verbose"},
			&cli.BoolFlag{Name: "debug"},
		},
		Action: runAPI,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "snapshot-api: %v\n", err)
		os.Exit(1)
	}
}

func runAPI(c *cli.Context) error {
	log, err := logging.New(c.Bool("verbose"), c.Bool("debug"))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	idx, err := index.Open(c.String("db"), log)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer idx.Close()

	srv := query.NewServer(query.New(idx), log)

	log.Info("listening", zap.String("addr", c.String("listen")))
	return srv.Listen(c.Context, c.String("listen"))
}
