// Package loopdev provisions the loop-backed block device the filesystem
// cases share: attaching the backing image with losetup, writing a partition
// table with parted, and forcing the kernel to reread it with blockdev.
package loopdev

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fragcheck/fragcheck/command"
	"github.com/fragcheck/fragcheck/errors"
)

const (
	losetup  = "losetup"
	parted   = "parted"
	blockdev = "blockdev"
)

// InfoEntry is one device from `losetup -J`.
type InfoEntry struct {
	Name      string `json:"name"`
	SizeLimit int64  `json:"sizelimit"`
	Offset    int64  `json:"offset"`
	AutoClear bool   `json:"autoclear"`
	ReadOnly  bool   `json:"ro"`
	BackFile  string `json:"back-file"`
}

type info struct {
	LoopDevices []InfoEntry `json:"loopdevices"`
}

// Device is an attached loop device, exclusively owned by the current run.
type Device struct {
	// Path is the loop device node, e.g. /dev/loop3.
	Path string
	// BackFile is the backing image the device was attached to.
	BackFile string

	log *zerolog.Logger
}

// IsCapable reports whether losetup is available.
func IsCapable() bool {
	return command.LookPath(losetup)
}

// List returns the currently attached loop devices.
func List(log *zerolog.Logger) ([]InfoEntry, error) {
	cmd := command.New(
		command.WithName(losetup),
		command.WithVarArgs("-J"),
		command.WithLogger(log),
		command.WithBufferedStdout(),
	)
	if err := cmd.Run(); err != nil {
		return nil, pkgerrors.Wrap(err, "losetup -J")
	}
	return parseInfo(cmd.Stdout())
}

func parseInfo(out []byte) ([]InfoEntry, error) {
	if len(out) == 0 {
		return nil, nil
	}
	var data info
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, pkgerrors.Wrap(err, "parsing losetup -J output")
	}
	return data.LoopDevices, nil
}

// DetachFile detaches any loop device backed by the given image. Used to
// recover from a previous run that died before cleanup.
func DetachFile(backFile string, log *zerolog.Logger) error {
	abs, err := filepath.Abs(backFile)
	if err != nil {
		return err
	}
	entries, err := List(log)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.BackFile != abs && e.BackFile != abs+" (deleted)" {
			continue
		}
		stale := &Device{Path: e.Name, BackFile: abs, log: log}
		if err := stale.Detach(); err != nil {
			return err
		}
	}
	return nil
}

// Attach attaches the image to a free loop device and returns it.
func Attach(backFile string, log *zerolog.Logger) (*Device, error) {
	cmd := command.New(
		command.WithName(losetup),
		command.WithVarArgs("--find", "--show", backFile),
		command.WithLogger(log),
		command.WithCommandLogLevel(zerolog.InfoLevel),
		command.WithStderrLogLevel(zerolog.ErrorLevel),
		command.WithBufferedStdout(),
	)
	if err := cmd.Run(); err != nil {
		return nil, errors.NewFromError(errors.KindProvisioning,
			pkgerrors.Wrapf(err, "attaching %s", backFile))
	}
	devPath := strings.TrimSpace(string(cmd.Stdout()))
	if devPath == "" {
		return nil, errors.Newf(errors.KindProvisioning,
			"losetup attached %s but printed no device name", backFile)
	}
	return &Device{Path: devPath, BackFile: backFile, log: log}, nil
}

// PartitionPath returns the node for partition n of the device. The kernel
// inserts a "p" separator when the device name ends in a digit (loop0p1).
func (d *Device) PartitionPath(n int) string {
	sep := ""
	if len(d.Path) > 0 && d.Path[len(d.Path)-1] >= '0' && d.Path[len(d.Path)-1] <= '9' {
		sep = "p"
	}
	return fmt.Sprintf("%s%s%d", d.Path, sep, n)
}

// MakePartition writes a fresh msdos label with a single primary partition
// spanning [startSector, endSector] and rereads the partition table. The
// previous case's filesystem disappears with the old label.
func (d *Device) MakePartition(fsLabel string, startSector, endSector int64) error {
	steps := [][]string{
		{"-s", d.Path, "mklabel", "msdos"},
		{"-s", d.Path, "mkpart", "primary", fsLabel,
			fmt.Sprintf("%ds", startSector), fmt.Sprintf("%ds", endSector)},
	}
	for _, args := range steps {
		cmd := command.New(
			command.WithName(parted),
			command.WithArgs(args),
			command.WithLogger(d.log),
			command.WithCommandLogLevel(zerolog.InfoLevel),
			command.WithStderrLogLevel(zerolog.ErrorLevel),
			command.WithTimeout(time.Minute),
		)
		if err := cmd.Run(); err != nil {
			return errors.NewFromError(errors.KindProvisioning,
				pkgerrors.Wrapf(err, "partitioning %s", d.Path))
		}
	}
	return d.RereadPartitions()
}

// RereadPartitions asks the kernel to reread the device's partition table.
func (d *Device) RereadPartitions() error {
	cmd := command.New(
		command.WithName(blockdev),
		command.WithVarArgs("--rereadpt", d.Path),
		command.WithLogger(d.log),
		command.WithStderrLogLevel(zerolog.ErrorLevel),
		command.WithTimeout(time.Minute),
	)
	if err := cmd.Run(); err != nil {
		return errors.NewFromError(errors.KindProvisioning,
			pkgerrors.Wrapf(err, "rereading partition table of %s", d.Path))
	}
	return nil
}

// Detach releases the loop device and waits for the kernel to drop it.
// losetup -d only schedules the detach, so completion is polled.
func (d *Device) Detach() error {
	cmd := command.New(
		command.WithName(losetup),
		command.WithVarArgs("-d", d.Path),
		command.WithLogger(d.log),
		command.WithCommandLogLevel(zerolog.InfoLevel),
		command.WithStderrLogLevel(zerolog.ErrorLevel),
	)
	if err := cmd.Run(); err != nil {
		return pkgerrors.Wrapf(err, "detaching %s", d.Path)
	}
	limit := time.Now().Add(5 * time.Second)
	for {
		entries, err := List(d.log)
		if err != nil {
			return err
		}
		gone := true
		for _, e := range entries {
			if e.Name == d.Path {
				gone = false
				break
			}
		}
		if gone {
			return nil
		}
		if time.Now().After(limit) {
			return fmt.Errorf("losetup silently failed to detach %s", d.Path)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// SectorCount reads the partition or device size in 512-byte sectors from
// sysfs.
func SectorCount(devPath string) (int64, error) {
	name := filepath.Base(devPath)
	data, err := os.ReadFile(filepath.Join("/sys/class/block", name, "size"))
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "parsing sysfs size of %s", devPath)
	}
	return n, nil
}
