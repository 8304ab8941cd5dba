// Package testing holds fixtures shared by the package tests: canned
// filefrag reports in the output shapes of different e2fsprogs versions,
// and in-memory device images for exercising extent-map readback without a
// real block device.
package testing

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/fragcheck/fragcheck"
)

// ModernReport is the e2fsprogs >= 1.43 shape: aligned columns, trailing
// colon after the length, flags in the last column. Two contiguous extents
// covering a 2000-block file.
const ModernReport = `Filesystem type is: ef53
File size of /mnt/pattern.bin is 1024000 (2000 blocks of 512 bytes)
 ext:     logical_offset:        physical_offset: length:   expected: flags:
   0:        0..     999:       1000..      1999:   1000:
   1:     1000..    1999:       2000..      2999:   1000:             last,eof
/mnt/pattern.bin: 2 extents found`

// LegacyReport is the older terse shape of the same extent map.
const LegacyReport = `File size of /mnt/pattern.bin is 1024000 (2000 blocks, blocksize 512)
0: 0..999: 1000..1999: 1000 blocks
1: 1000..1999: 2000..2999: 1000 blocks, eof
/mnt/pattern.bin: 2 extents found`

// DiscontiguousReport carries the "expected:" column filefrag prints when an
// extent is not where the previous one predicted.
const DiscontiguousReport = `Filesystem type is: ef53
File size of /mnt/pattern.bin is 1024000 (2000 blocks of 512 bytes)
 ext:     logical_offset:        physical_offset: length:   expected: flags:
   0:        0..     999:       1000..      1999:   1000:
   1:     1000..    1999:       5000..      5999:   1000:       2000: last,eof
/mnt/pattern.bin: 2 extents found`

// TruncatedReport claims more extents than it lists, as when the tool's
// output was cut off mid-stream.
const TruncatedReport = `Filesystem type is: ef53
File size of /mnt/pattern.bin is 1024000 (2000 blocks of 512 bytes)
 ext:     logical_offset:        physical_offset: length:   expected: flags:
   0:        0..     999:       1000..      1999:   1000:
/mnt/pattern.bin: 2 extents found`

// GarbageReport contains nothing the parser should recognize.
const GarbageReport = `mount: /dev/loop3p1: can't read superblock
usage: filefrag [-b blocksize] file`

// Extents returns an extent list built from (logicalStart, physicalStart,
// length) triples, in the given order.
func Extents(triples ...[3]uint64) fragcheck.ExtentList {
	var list fragcheck.ExtentList
	for i, tr := range triples {
		list = append(list, fragcheck.Extent{
			Index:    i,
			Logical:  fragcheck.BlockRange{Start: tr[0], End: tr[0] + tr[2]},
			Physical: fragcheck.BlockRange{Start: tr[1], End: tr[1] + tr[2]},
		})
	}
	return list
}

// Pattern returns n deterministic non-repeating-looking bytes, printable
// nowhere, so that a misplaced read cannot match by accident.
func Pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte((i*131 + i/7) % 251)
	}
	return buf
}

// DeviceImage builds an in-memory partition image of totalSectors sectors
// with the payload scattered across the given physical runs in order,
// mimicking how a filesystem lays a file out. The returned stream is
// positioned at the start.
func DeviceImage(t *testing.T, totalSectors int, runs []fragcheck.PhysicalRun, payload []byte) io.ReadWriteSeeker {
	img := make([]byte, totalSectors*fragcheck.SectorSize)
	stream := bytesextra.NewReadWriteSeeker(img)
	offset := 0
	for _, run := range runs {
		if offset >= len(payload) {
			break
		}
		n := int(run.Length) * fragcheck.SectorSize
		if n > len(payload)-offset {
			n = len(payload) - offset
		}
		_, err := stream.Seek(int64(run.Start)*fragcheck.SectorSize, io.SeekStart)
		require.NoError(t, err)
		_, err = stream.Write(payload[offset : offset+n])
		require.NoError(t, err)
		offset += n
	}
	_, err := stream.Seek(0, io.SeekStart)
	require.NoError(t, err)
	return stream
}
