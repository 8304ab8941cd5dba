// Package runner sequences the filesystem cases: provision the shared
// loop-backed partition, format, mount, write the pattern file, run the
// fragmentation tool, validate the parsed extents, verify content through
// the extent map, and record one PASS/FAIL/ERROR result per case.
//
// Cases run strictly one at a time. They share a single loop device and
// mount point, so the provisioned resources are owned exclusively by the
// executing case and released before the next one starts, on error paths
// included.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/fragcheck/fragcheck"
	"github.com/fragcheck/fragcheck/errors"
	"github.com/fragcheck/fragcheck/filefrag"
	"github.com/fragcheck/fragcheck/fsys"
	"github.com/fragcheck/fragcheck/loopdev"
)

const (
	defaultImageSectors = 1048576 // 512 MiB backing image
	defaultPartStart    = 2048
	defaultPartEnd      = 1026047

	patternSeedSectors = 4
	patternRepeat      = 5250

	// verifyBytes is how much of the pattern file is read back through the
	// raw device for content verification.
	verifyBytes = 256

	// fillSlackSectors is held back when filling free space; xfs cannot
	// fill the available space completely.
	fillSlackSectors = 100

	patternName = "pattern.bin"
	fillName    = "fill.bin"
)

// Config parameterizes a run. Zero fields get defaults from New.
type Config struct {
	// WorkDir holds the backing image, the pattern file and the mount
	// point. Needs roughly 1 GiB free.
	WorkDir string
	// ImageSectors is the backing image size in 512-byte sectors.
	ImageSectors int64
	// PartStartSector and PartEndSector bound the single test partition.
	PartStartSector int64
	PartEndSector   int64
	// Cases are the filesystems to exercise, in order.
	Cases []fragcheck.FilesystemCase
	// Keep skips end-of-run cleanup, leaving the image and mounts for
	// inspection.
	Keep bool
}

// Runner owns the shared provisioned resources for one run.
type Runner struct {
	cfg Config
	log zerolog.Logger

	imagePath   string
	patternPath string
	mountPoint  string

	loop    *loopdev.Device
	mounted bool
	curFS   fsys.T
}

// New builds a Runner, applying defaults for unset Config fields.
func New(cfg Config, log zerolog.Logger) *Runner {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.ImageSectors == 0 {
		cfg.ImageSectors = defaultImageSectors
	}
	if cfg.PartStartSector == 0 {
		cfg.PartStartSector = defaultPartStart
	}
	if cfg.PartEndSector == 0 {
		cfg.PartEndSector = defaultPartEnd
	}
	if len(cfg.Cases) == 0 {
		cfg.Cases = fragcheck.DefaultCases()
	}
	return &Runner{
		cfg:         cfg,
		log:         log,
		imagePath:   filepath.Join(cfg.WorkDir, "fragcheck.img"),
		patternPath: filepath.Join(cfg.WorkDir, patternName),
		mountPoint:  filepath.Join(cfg.WorkDir, "mnt"),
	}
}

// Run executes every configured case and returns the accumulated report.
// The report is valid even when ctx is canceled mid-run; the error then is
// the ctx error.
func (r *Runner) Run(ctx context.Context) (*fragcheck.Report, error) {
	for _, tool := range []struct {
		name string
		ok   bool
	}{
		{"losetup", loopdev.IsCapable()},
		{"filefrag", filefrag.IsCapable()},
	} {
		if !tool.ok {
			return nil, errors.Newf(errors.KindProvisioning, "%s not found in PATH", tool.name)
		}
	}

	if err := r.setup(); err != nil {
		if cerr := r.cleanup(); cerr != nil {
			r.log.Warn().Err(cerr).Msg("cleanup after failed setup")
		}
		return nil, err
	}
	defer func() {
		if r.cfg.Keep {
			r.log.Info().Str("image", r.imagePath).Msg("keeping provisioned resources")
			return
		}
		if err := r.cleanup(); err != nil {
			r.log.Warn().Err(err).Msg("cleanup incomplete")
		}
	}()

	report := &fragcheck.Report{}
	for _, c := range r.cfg.Cases {
		if err := ctx.Err(); err != nil {
			r.log.Warn().Err(err).Msg("run interrupted")
			return report, err
		}
		res := r.runCase(ctx, c)
		level := zerolog.InfoLevel
		if res.Outcome != fragcheck.Pass {
			level = zerolog.ErrorLevel
		}
		r.log.WithLevel(level).
			Str("fs", res.Filesystem).
			Str("outcome", res.Outcome.String()).
			Str("detail", res.Message).
			Msg("case finished")
		report.Add(res)
	}
	return report, ctx.Err()
}

// runCase executes a single filesystem case. All failures are mapped onto
// the result; only the report records them, so one broken case never stops
// the rest of the run.
func (r *Runner) runCase(ctx context.Context, c fragcheck.FilesystemCase) fragcheck.TestResult {
	log := r.log.With().Str("fs", c.Type).Logger()
	log.Info().Msg("case start")

	fs := fsys.New(c, &log)
	if !fs.IsCapable() {
		return fragcheck.TestResult{
			Filesystem: c.Type,
			Outcome:    fragcheck.Error,
			Message:    fmt.Sprintf("mkfs.%s not installed", c.Type),
		}
	}

	if err := r.loop.MakePartition(c.PartedType, r.cfg.PartStartSector, r.cfg.PartEndSector); err != nil {
		return resultFromErr(c.Type, err)
	}
	part := r.loop.PartitionPath(1)
	if err := fs.Mkfs(part); err != nil {
		return resultFromErr(c.Type, err)
	}
	if err := fs.Mount(part, r.mountPoint); err != nil {
		return resultFromErr(c.Type, err)
	}
	r.mounted = true
	r.curFS = fs

	res := r.checkMounted(ctx, c, part, &log)

	if err := fs.Umount(r.mountPoint); err != nil {
		log.Error().Err(err).Msg("unmount failed")
		if res.Outcome == fragcheck.Pass {
			res = resultFromErr(c.Type, err)
		}
	} else {
		r.mounted = false
	}

	if res.Outcome == fragcheck.Pass && !c.SkipFsck {
		if err := fs.Fsck(part); err != nil {
			res = resultFromErr(c.Type, err)
		}
	}
	if sectors, err := loopdev.SectorCount(part); err == nil {
		log.Debug().Int64("sectors", sectors).Msg("partition size")
	}
	return res
}

// checkMounted runs the parts of a case that need the filesystem mounted.
func (r *Runner) checkMounted(ctx context.Context, c fragcheck.FilesystemCase, part string, log *zerolog.Logger) fragcheck.TestResult {
	target := filepath.Join(r.mountPoint, patternName)
	if err := copyFile(r.patternPath, target); err != nil {
		return resultFromErr(c.Type, errors.NewFromError(errors.KindProvisioning, err))
	}

	out, err := filefrag.Invoke(target, log)
	if err != nil {
		return resultFromErr(c.Type, err)
	}
	st, err := os.Stat(target)
	if err != nil {
		return resultFromErr(c.Type, errors.NewFromError(errors.KindProvisioning, err))
	}
	blocks := uint64((st.Size() + fragcheck.SectorSize - 1) / fragcheck.SectorSize)
	if out.Blocks > 0 && out.BlockSize == fragcheck.SectorSize && out.Blocks != blocks {
		log.Warn().
			Uint64("reported", out.Blocks).
			Uint64("computed", blocks).
			Msg("tool-reported size differs from stat")
	}
	log.Info().
		Int("extents", len(out.Extents)).
		Uint64("blocks", blocks).
		Msg("extent map parsed")

	opts := fragcheck.ValidateOptions{AllowSparse: c.Sparse}
	if err := fragcheck.Validate(out.Extents, blocks, opts); err != nil {
		return resultFromErr(c.Type, err)
	}
	if err := r.verifyContent(target, part, out.Extents, log); err != nil {
		return resultFromErr(c.Type, err)
	}
	if err := r.fillCheck(ctx, c, log); err != nil {
		return resultFromErr(c.Type, err)
	}
	return fragcheck.TestResult{Filesystem: c.Type, Outcome: fragcheck.Pass}
}

// resultFromErr maps the error taxonomy onto an outcome: validation
// failures are the defect this tool detects (FAIL); everything else means
// the case could not be judged (ERROR).
func resultFromErr(fsName string, err error) fragcheck.TestResult {
	outcome := fragcheck.Error
	if errors.KindOf(err) == errors.KindValidation {
		outcome = fragcheck.Fail
	}
	return fragcheck.TestResult{
		Filesystem: fsName,
		Outcome:    outcome,
		Message:    err.Error(),
	}
}
