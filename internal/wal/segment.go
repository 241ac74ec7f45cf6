package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Magic is the 8-byte header every segment file starts with (spec §4.1).
const Magic = "CTXWAL01"

// SegmentSize is the rotation threshold: each append checks
// current.size >= SegmentSize (spec §4.1).
const SegmentSize = 128 * 1024 * 1024

var segmentNameRe = regexp.MustCompile(`^wal-(\d{8})\.log$`)

func segmentPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%08d.log", id))
}

// listSegments returns every segment id present in dir, ascending.
func listSegments(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		var id uint32
		fmt.Sscanf(m[1], "%d", &id)
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// writeMagic writes the segment header to a freshly created file.
func writeMagic(f *os.File) error {
	_, err := f.Write([]byte(Magic))
	return err
}
