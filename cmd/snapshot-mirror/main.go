package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fepitre/debian-snapshot/internal/fetch"
	"github.com/fepitre/debian-snapshot/internal/index"
	"github.com/fepitre/debian-snapshot/internal/ingest"
	"github.com/fepitre/debian-snapshot/internal/logging"
	"github.com/fepitre/debian-snapshot/internal/metadata"
	"github.com/fepitre/debian-snapshot/internal/snaperr"
	"github.com/fepitre/debian-snapshot/internal/store"
	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

// defaultMetadataBaseURL and defaultInstallerMirrorURL are the two
// upstream hosts original_source/snapshot.py hardcodes as
// SNAPSHOT_DEBIAN and the ftp.debian.org fallback used only for
// installer images (lines around download_installer).
const (
	defaultMetadataBaseURL     = "http://snapshot.debian.org"
	defaultInstallerMirrorURL  = "https://ftp.debian.org"
	defaultTimestampCatalogURL = "http://snapshot.debian.org/by-timestamp"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-interrupt:
			fmt.Println()
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:      "snapshot-mirror",
		Usage:     "mirror a Debian-style snapshot archive into a local content-addressed store",
		ArgsUsage: "<local-directory>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "archive", Usage: "archive to mirror (default: debian)"},
			&cli.StringSliceFlag{Name: "suite", Usage: "suite to mirror (default: unstable)"},
			&cli.StringSliceFlag{Name: "component", Usage: "component to mirror (default: main)"},
			&cli.StringSliceFlag{Name: "arch", Usage: "architecture to mirror"},
			&cli.StringSliceFlag{Name: "timestamp", Usage: "timestamp or begin:end range to mirror; repeatable"},
			&cli.BoolFlag{Name: "check-only", Usage: "verify downloaded blobs only, no fetch"},
			&cli.BoolFlag{Name: "provision-db", Usage: "fold fetched metadata into the temporal index"},
			&cli.BoolFlag{Name: "provision-db-only", Usage: "fold already-mirrored metadata into the index, skip fetch"},
			&cli.BoolFlag{Name: "ignore-provisioned", Usage: "re-fold repodata already marked provisioned"},
			&cli.BoolFlag{Name: "no-clean-part-file", Usage: "keep .part files after a failed fetch"},
			&cli.BoolFlag{Name: "skip-installer-files", Usage: "skip debian-installer image fetch"},
			&cli.IntFlag{Name: "concurrency", Value: ingest.DefaultFetchConcurrency, Usage: "fetch-pool concurrency"},
			&cli.StringFlag{Name: "db", Value: "", Usage: "path to the sqlite index database (empty keeps the index in memory for this run only)"},
			&cli.StringFlag{Name: "metadata-base-url", Value: defaultMetadataBaseURL},
			&cli.StringFlag{Name: "installer-mirror-url", Value: defaultInstallerMirrorURL},
			&cli.StringFlag{Name: "timestamp-catalog-url", Value: defaultTimestampCatalogURL},
			&cli.BoolFlag{Name: "verbose"},
			&cli.BoolFlag{Name: "debug"},
		},
		Action: runMirror,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		color.Red("snapshot-mirror: %v", err)
		os.Exit(1)
	}
}

func runMirror(c *cli.Context) error {
	localDir := c.Args().Get(0)
	if localDir == "" {
		return fmt.Errorf("missing local-directory argument")
	}

	log, err := logging.New(c.Bool("verbose"), c.Bool("debug"))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	job := ingest.Job{
		Archives:           orDefault(c.StringSlice("archive"), "debian"),
		Suites:             orDefault(c.StringSlice("suite"), "unstable"),
		Components:         orDefault(c.StringSlice("component"), "main"),
		Architectures:      c.StringSlice("arch"),
		TimestampRequests:  c.StringSlice("timestamp"),
		CheckOnly:          c.Bool("check-only"),
		ProvisionDB:        c.Bool("provision-db"),
		ProvisionDBOnly:    c.Bool("provision-db-only"),
		IgnoreProvisioned:  c.Bool("ignore-provisioned"),
		NoCleanPartFile:    c.Bool("no-clean-part-file"),
		SkipInstallerFiles: c.Bool("skip-installer-files"),
		FetchConcurrency:   int64(c.Int("concurrency")),
	}

	st, err := store.New(localDir, log)
	if err != nil {
		return fmt.Errorf("opening object store: %w", err)
	}

	eng := fetch.New(nil, log)

	cat := &timestamp.Catalog{
		CacheDir:         localDir,
		DiscoveryBaseURL: c.String("timestamp-catalog-url"),
	}

	pl := metadata.NewPlanner(c.String("metadata-base-url"), c.String("installer-mirror-url"))

	dbPath := c.String("db")
	if dbPath == "" {
		dbPath = ":memory:"
	}
	idx, err := index.Open(dbPath, log)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer idx.Close()

	driver := ingest.New(st, eng, cat, pl, idx, st.Root(), log)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("mirroring"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stderr),
	)
	defer bar.Finish()
	driver.Progress = func(archive string, t timestamp.Value) {
		_ = bar.Add(1)
	}

	if err := driver.Run(c.Context, job); err != nil {
		if snaperr.UserVisible(err) {
			return err
		}
		log.Warn("ingest finished with non-fatal errors", zap.Error(err))
		return nil
	}

	color.Green("mirror complete")
	return nil
}

func orDefault(vals []string, def string) []string {
	if len(vals) == 0 {
		return []string{def}
	}
	return vals
}
