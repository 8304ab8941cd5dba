// Command fragcheck validates the extent maps filefrag reports for files on
// freshly formatted filesystems.
//
// The run command needs root and about 1 GiB of free space in the working
// directory: it provisions a loop-backed partition, formats it with each
// configured filesystem, and checks that filefrag's extent output is sane
// and maps to the right on-device bytes.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/fragcheck/fragcheck"
	"github.com/fragcheck/fragcheck/filefrag"
	"github.com/fragcheck/fragcheck/report"
	"github.com/fragcheck/fragcheck/runner"
)

func main() {
	app := &cli.App{
		Name:  "fragcheck",
		Usage: "validate filefrag extent maps across filesystems",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			parseCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fragcheck: %s\n", err)
		os.Exit(2)
	}
}

func newLogger(cCtx *cli.Context) zerolog.Logger {
	level := zerolog.InfoLevel
	if cCtx.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "provision, format and check every configured filesystem",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workdir",
				Aliases: []string{"w"},
				Value:   ".",
				Usage:   "directory for the backing image and mount point",
			},
			&cli.StringSliceFlag{
				Name:  "fs",
				Usage: "only run the named filesystem cases (repeatable)",
			},
			&cli.StringFlag{
				Name:  "cases",
				Usage: "load the case table from a HuJSON `FILE` instead of the built-ins",
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "also export results to a CSV `FILE`",
			},
			&cli.BoolFlag{
				Name:  "keep",
				Usage: "skip cleanup, leaving image and mounts for inspection",
			},
		},
		Action: runAction,
	}
}

func runAction(cCtx *cli.Context) error {
	if os.Geteuid() != 0 {
		return cli.Exit("fragcheck run must be executed as root", 2)
	}
	log := newLogger(cCtx)

	cases := fragcheck.DefaultCases()
	if path := cCtx.String("cases"); path != "" {
		var err error
		cases, err = fragcheck.LoadCases(path)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
	}
	cases, err := fragcheck.FilterCases(cases, cCtx.StringSlice("fs"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	r := runner.New(runner.Config{
		WorkDir: cCtx.String("workdir"),
		Cases:   cases,
		Keep:    cCtx.Bool("keep"),
	}, log)

	rep, runErr := r.Run(cCtx.Context)
	if rep != nil && len(rep.Results()) > 0 {
		report.Render(os.Stdout, rep)
		if path := cCtx.String("csv"); path != "" {
			if err := report.WriteCSV(path, rep); err != nil {
				log.Error().Err(err).Msg("csv export failed")
			}
		}
	}
	if runErr != nil {
		return cli.Exit(runErr.Error(), 1)
	}
	if !rep.Ok() {
		return cli.Exit("", 1)
	}
	return nil
}

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "parse and validate a saved filefrag report",
		ArgsUsage: "[FILE]",
		Description: "Reads filefrag -e output from FILE (or stdin), parses the " +
			"extent list and validates it. Useful for checking a report " +
			"captured on another machine.",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "blocks",
				Usage: "expected file size in 512-byte blocks (default: from the report header)",
			},
			&cli.BoolFlag{
				Name:  "sparse",
				Usage: "tolerate holes in the logical mapping",
			},
		},
		Action: parseAction,
	}
}

func parseAction(cCtx *cli.Context) error {
	var (
		data []byte
		err  error
	)
	if cCtx.NArg() > 0 {
		data, err = os.ReadFile(cCtx.Args().First())
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	out, err := filefrag.Parse(string(data))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	for _, e := range out.Extents {
		fmt.Println(e)
	}

	blocks := cCtx.Uint64("blocks")
	if blocks == 0 {
		blocks = out.Blocks
	}
	if blocks == 0 {
		return cli.Exit("report has no size header; pass --blocks", 2)
	}
	opts := fragcheck.ValidateOptions{AllowSparse: cCtx.Bool("sparse")}
	if err := fragcheck.Validate(out.Extents, blocks, opts); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("%d extents, %d blocks covered: ok\n", len(out.Extents), blocks)
	return nil
}
