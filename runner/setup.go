package runner

import (
	"crypto/rand"
	"io"
	"os"
	"path/filepath"

	"github.com/noxer/bytewriter"
	pkgerrors "github.com/pkg/errors"

	"github.com/fragcheck/fragcheck"
	"github.com/fragcheck/fragcheck/errors"
	"github.com/fragcheck/fragcheck/loopdev"
)

// setup provisions the shared run resources: mount point, pattern file,
// backing image and the loop device attachment.
func (r *Runner) setup() error {
	if err := os.MkdirAll(r.mountPoint, 0o755); err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	pattern, err := buildPattern()
	if err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	if err := os.WriteFile(r.patternPath, pattern, 0o644); err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	if err := createImage(r.imagePath, r.cfg.ImageSectors); err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	// A previous run that died before cleanup may still hold the image.
	if err := loopdev.DetachFile(r.imagePath, &r.log); err != nil {
		r.log.Warn().Err(err).Msg("detaching stale loop devices")
	}
	abs, err := filepath.Abs(r.imagePath)
	if err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	dev, err := loopdev.Attach(abs, &r.log)
	if err != nil {
		return err
	}
	r.loop = dev
	r.log.Info().Str("device", dev.Path).Str("image", abs).Msg("loop device attached")
	return nil
}

// buildPattern produces the recognizable test payload: a small random seed
// repeated enough times to span many filesystem clusters, so a wrong extent
// mapping cannot accidentally read back matching bytes from a zeroed device.
func buildPattern() ([]byte, error) {
	seed := make([]byte, patternSeedSectors*fragcheck.SectorSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, pkgerrors.Wrap(err, "generating pattern seed")
	}
	buf := make([]byte, len(seed)*patternRepeat)
	w := bytewriter.New(buf)
	for i := 0; i < patternRepeat; i++ {
		if _, err := w.Write(seed); err != nil {
			return nil, pkgerrors.Wrap(err, "building pattern")
		}
	}
	return buf, nil
}

// createImage writes the zero-filled backing image. The file is truncated to
// size rather than written through; the loop driver is happy with sparse
// backing files and the filesystems allocate what they touch.
func createImage(path string, sectors int64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := f.Truncate(sectors * fragcheck.SectorSize); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
