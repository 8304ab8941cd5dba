package runner

import (
	"os"

	"github.com/hashicorp/go-multierror"
)

// cleanup releases everything the run provisioned, best effort: every step
// is attempted even when an earlier one fails, and the failures come back
// aggregated. Called at end of run and on interrupted/failed setup.
func (r *Runner) cleanup() error {
	var errs *multierror.Error
	if r.mounted {
		if err := r.curFS.Umount(r.mountPoint); err != nil {
			errs = multierror.Append(errs, err)
		} else {
			r.mounted = false
		}
	}
	if r.loop != nil {
		if err := r.loop.Detach(); err != nil {
			errs = multierror.Append(errs, err)
		} else {
			r.loop = nil
		}
	}
	for _, path := range []string{r.imagePath, r.patternPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, err)
		}
	}
	// Plain Remove so a mount point that is somehow still busy is left
	// alone instead of recursively deleted.
	if err := os.Remove(r.mountPoint); err != nil && !os.IsNotExist(err) {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
