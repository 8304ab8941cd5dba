// Package fsys formats, mounts, unmounts and checks one filesystem type by
// driving the system's mkfs, mount, umount and fsck tools.
package fsys

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fragcheck/fragcheck"
	"github.com/fragcheck/fragcheck/command"
	"github.com/fragcheck/fragcheck/errors"
)

// T drives the filesystem tools for a single case.
type T struct {
	c   fragcheck.FilesystemCase
	log *zerolog.Logger
}

func New(c fragcheck.FilesystemCase, log *zerolog.Logger) T {
	return T{c: c, log: log}
}

// Type returns the filesystem type the instance was built for.
func (t T) Type() string {
	return t.c.Type
}

// IsCapable reports whether a mkfs backend for this type is installed.
// `mkfs -t TYPE` just executes mkfs.TYPE, so the backend's presence is the
// real capability test.
func (t T) IsCapable() bool {
	return command.LookPath("mkfs." + t.c.Type)
}

// Mkfs formats the device, inserting the case's extra arguments (force
// flags and the like) between the type and the device.
func (t T) Mkfs(dev string) error {
	args := []string{"-t", t.c.Type}
	if t.c.MkfsArgs != "" {
		extra, err := command.CmdArgsFromString(t.c.MkfsArgs)
		if err != nil {
			return errors.NewFromError(errors.KindProvisioning, err)
		}
		args = append(args, extra...)
	}
	args = append(args, dev)
	cmd := command.New(
		command.WithName("mkfs"),
		command.WithArgs(args),
		command.WithLogger(t.log),
		command.WithCommandLogLevel(zerolog.InfoLevel),
		command.WithStdoutLogLevel(zerolog.DebugLevel),
		command.WithStderrLogLevel(zerolog.WarnLevel),
		command.WithTimeout(5*time.Minute),
	)
	if err := cmd.Run(); err != nil {
		return errors.NewFromError(errors.KindProvisioning,
			pkgerrors.Wrapf(err, "mkfs -t %s %s", t.c.Type, dev))
	}
	return nil
}

// Mount mounts the device on mnt with the case's mount options.
func (t T) Mount(dev, mnt string) error {
	args := []string{"-t", t.c.Type}
	if t.c.MountOptions != "" {
		args = append(args, "-o", t.c.MountOptions)
	}
	args = append(args, dev, mnt)
	cmd := command.New(
		command.WithName("mount"),
		command.WithArgs(args),
		command.WithLogger(t.log),
		command.WithCommandLogLevel(zerolog.InfoLevel),
		command.WithStderrLogLevel(zerolog.ErrorLevel),
		command.WithTimeout(time.Minute),
	)
	if err := cmd.Run(); err != nil {
		return errors.NewFromError(errors.KindProvisioning,
			pkgerrors.Wrapf(err, "mounting %s on %s", dev, mnt))
	}
	return nil
}

// Umount unmounts the mount point.
func (t T) Umount(mnt string) error {
	cmd := command.New(
		command.WithName("umount"),
		command.WithVarArgs(mnt),
		command.WithLogger(t.log),
		command.WithCommandLogLevel(zerolog.InfoLevel),
		command.WithStderrLogLevel(zerolog.ErrorLevel),
		command.WithTimeout(time.Minute),
	)
	if err := cmd.Run(); err != nil {
		return errors.NewFromError(errors.KindProvisioning,
			pkgerrors.Wrapf(err, "unmounting %s", mnt))
	}
	return nil
}

// Fsck runs a read-only filesystem check on the device. The `-- -n`
// convention passes no-op mode through the fsck frontend to the backend.
func (t T) Fsck(dev string) error {
	cmd := command.New(
		command.WithName("fsck"),
		command.WithVarArgs(dev, "--", "-n"),
		command.WithLogger(t.log),
		command.WithCommandLogLevel(zerolog.InfoLevel),
		command.WithStdoutLogLevel(zerolog.DebugLevel),
		command.WithStderrLogLevel(zerolog.WarnLevel),
		command.WithTimeout(5*time.Minute),
	)
	if err := cmd.Run(); err != nil {
		return errors.NewFromError(errors.KindProvisioning,
			pkgerrors.Wrapf(err, "fsck %s", dev))
	}
	return nil
}
