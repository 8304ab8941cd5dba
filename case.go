package fragcheck

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"
)

// FilesystemCase describes one filesystem to exercise: how to label the
// partition for it, how to format it, how to mount it, and which validation
// policy applies.
type FilesystemCase struct {
	// Type is the filesystem type as understood by `mkfs -t` and `mount -t`.
	Type string `json:"type"`
	// PartedType is the filesystem label parted wants in `mkpart primary`.
	// It rarely matches Type exactly (e.g. "fat32" for vfat, "NTFS").
	PartedType string `json:"parted_type"`
	// MkfsArgs are extra arguments inserted between `mkfs -t TYPE` and the
	// device, as a single string split with shell quoting rules.
	MkfsArgs string `json:"mkfs_args,omitempty"`
	// MountOptions is the `mount -o` option string, empty for defaults.
	MountOptions string `json:"mount_options,omitempty"`
	// Sparse tells the validator to tolerate holes in the logical mapping.
	// Set for filesystems with sparse-file support; on the rest a gap
	// between extents is a mapping defect.
	Sparse bool `json:"sparse,omitempty"`
	// SkipFsck disables the post-unmount fsck. Some fsck frontends either
	// do not exist or refuse the `-- -n` convention for these types.
	SkipFsck bool `json:"skip_fsck,omitempty"`
}

func (c FilesystemCase) String() string {
	return c.Type
}

// DefaultCases returns the built-in case table: the six filesystems the
// original validation procedure covers, with per-type mkfs force flags and
// sparse policies.
func DefaultCases() []FilesystemCase {
	return []FilesystemCase{
		{Type: "vfat", PartedType: "fat32"},
		{Type: "ext4", PartedType: "ext4", Sparse: true},
		{Type: "hfsplus", PartedType: "hfs"},
		{Type: "ntfs", PartedType: "NTFS", Sparse: true, SkipFsck: true},
		{Type: "xfs", PartedType: "xfs", MkfsArgs: "-f", Sparse: true, SkipFsck: true},
		{Type: "btrfs", PartedType: "btrfs", MkfsArgs: "--force", Sparse: true, SkipFsck: true},
	}
}

// caseFile is the on-disk shape of a cases config file.
type caseFile struct {
	Cases []FilesystemCase `json:"cases"`
}

// LoadCases reads a case table from a HuJSON file (JSON with comments and
// trailing commas permitted). The file holds {"cases": [...]} with the same
// fields as [FilesystemCase].
func LoadCases(path string) ([]FilesystemCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid cases file %s: %w", path, err)
	}
	var cf caseFile
	if err := json.Unmarshal(standardized, &cf); err != nil {
		return nil, fmt.Errorf("invalid cases file %s: %w", path, err)
	}
	if len(cf.Cases) == 0 {
		return nil, fmt.Errorf("cases file %s defines no cases", path)
	}
	for i, c := range cf.Cases {
		if c.Type == "" {
			return nil, fmt.Errorf("cases file %s: case %d has no type", path, i)
		}
		if c.PartedType == "" {
			// parted accepts the plain type name for most filesystems.
			cf.Cases[i].PartedType = c.Type
		}
	}
	return cf.Cases, nil
}

// FilterCases keeps only the cases whose type is listed in `names`. An empty
// filter keeps everything. A name matching no case is an error, so a typo
// does not silently run zero cases.
func FilterCases(cases []FilesystemCase, names []string) ([]FilesystemCase, error) {
	if len(names) == 0 {
		return cases, nil
	}
	byType := make(map[string]FilesystemCase, len(cases))
	for _, c := range cases {
		byType[c.Type] = c
	}
	var out []FilesystemCase
	for _, name := range names {
		c, ok := byType[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("no filesystem case named %q", name)
		}
		out = append(out, c)
	}
	return out, nil
}
