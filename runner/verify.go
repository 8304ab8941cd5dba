package runner

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/fragcheck/fragcheck"
	"github.com/fragcheck/fragcheck/errors"
)

// verifyContent cross-checks the extent map against reality: the first
// verifyBytes of the pattern file read through the mounted filesystem must
// equal the same bytes read from the raw partition device at the physical
// offsets the extent map claims. A mismatch means the map points at the
// wrong blocks, which is a validation failure even when the map's geometry
// looked sane.
func (r *Runner) verifyContent(filePath, devPath string, list fragcheck.ExtentList, log *zerolog.Logger) error {
	st, err := os.Stat(filePath)
	if err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	if st.Size() <= verifyBytes {
		return errors.Newf(errors.KindProvisioning,
			"%s too small for content verification (%d bytes)", filePath, st.Size())
	}

	runs, overlaps := list.MergePhysical()
	for _, o := range overlaps {
		log.Warn().Str("overlap", o.String()).Msg("physically overlapping extents merged")
	}
	log.Debug().Int("extents", len(list)).Int("runs", len(runs)).Msg("merged extent map")

	want := make([]byte, verifyBytes)
	f, err := os.Open(filePath)
	if err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	_, err = io.ReadFull(f, want)
	f.Close()
	if err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}

	dev, err := os.Open(devPath)
	if err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}
	defer dev.Close()
	got, err := readThroughExtents(dev, runs, verifyBytes)
	if err != nil {
		return errors.NewFromError(errors.KindProvisioning, err)
	}

	if !bytes.Equal(want, got) {
		return errors.Newf(errors.KindValidation,
			"content read through extent map does not match file: file=%s device=%s",
			hex.EncodeToString(want), hex.EncodeToString(got))
	}
	return nil
}

// readThroughExtents reads the first n bytes of a file directly from the
// backing device, walking the merged physical runs in logical order.
func readThroughExtents(dev io.ReadSeeker, runs []fragcheck.PhysicalRun, n int) ([]byte, error) {
	buf := make([]byte, 0, n)
	for _, run := range runs {
		if len(buf) >= n {
			break
		}
		if _, err := dev.Seek(int64(run.Start)*fragcheck.SectorSize, io.SeekStart); err != nil {
			return nil, err
		}
		size := int(run.Length) * fragcheck.SectorSize
		if remaining := n - len(buf); size > remaining {
			size = remaining
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(dev, chunk); err != nil {
			return nil, fmt.Errorf("reading %d bytes at sector %d: %w", size, run.Start, err)
		}
		buf = append(buf, chunk...)
	}
	if len(buf) < n {
		return nil, fmt.Errorf("extent map covers only %d of %d requested bytes", len(buf), n)
	}
	return buf, nil
}
