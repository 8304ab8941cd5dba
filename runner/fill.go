package runner

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/fragcheck/fragcheck"
	"github.com/fragcheck/fragcheck/errors"
	"github.com/fragcheck/fragcheck/filefrag"
)

// fillCheck exercises the extent map of a file that consumes essentially all
// remaining space: a large allocation stresses a very different part of the
// allocator than the small pattern file.
func (r *Runner) fillCheck(ctx context.Context, c fragcheck.FilesystemCase, log *zerolog.Logger) error {
	free, err := freeSectors(r.mountPoint)
	if err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	fillSectors := free - fillSlackSectors
	if fillSectors <= 0 {
		log.Warn().Int64("freeSectors", free).Msg("not enough free space for fill check")
		return nil
	}
	fillPath := filepath.Join(r.mountPoint, fillName)
	written, err := writeZeroFile(ctx, fillPath, fillSectors)
	if err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	defer os.Remove(fillPath)
	log.Info().
		Int64("sectors", written).
		Int64("freeSectors", free).
		Msg("fill file written")

	out, err := filefrag.Invoke(fillPath, log)
	if err != nil {
		return err
	}
	st, err := os.Stat(fillPath)
	if err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	blocks := uint64((st.Size() + fragcheck.SectorSize - 1) / fragcheck.SectorSize)
	log.Info().Int("extents", len(out.Extents)).Uint64("blocks", blocks).Msg("fill extent map parsed")
	return fragcheck.Validate(out.Extents, blocks, fragcheck.ValidateOptions{AllowSparse: c.Sparse})
}

// freeSectors returns the space available to unprivileged writes on the
// mount, in 512-byte sectors.
func freeSectors(mnt string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(mnt, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * (int64(st.Bsize) / fragcheck.SectorSize), nil
}

// writeZeroFile writes `sectors` zeroed sectors to path, stopping early on
// ENOSPC (some filesystems reserve more than our slack) or context
// cancellation. It returns the number of sectors actually written.
func writeZeroFile(ctx context.Context, path string, sectors int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	const chunkSectors = 2048 // 1 MiB
	zeros := make([]byte, chunkSectors*fragcheck.SectorSize)
	var written int64
	for written < sectors {
		if err := ctx.Err(); err != nil {
			f.Close()
			return written, err
		}
		n := sectors - written
		if n > chunkSectors {
			n = chunkSectors
		}
		if _, err := f.Write(zeros[:n*fragcheck.SectorSize]); err != nil {
			if isNoSpace(err) {
				break
			}
			f.Close()
			return written, err
		}
		written += n
	}
	if err := f.Sync(); err != nil && !isNoSpace(err) {
		f.Close()
		return written, err
	}
	return written, f.Close()
}

func isNoSpace(err error) bool {
	return stderrors.Is(err, unix.ENOSPC)
}
