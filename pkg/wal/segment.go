package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Segment files are named by a monotonically increasing six-digit id, e.g.
// "000001.wal". Rotation always creates the next id; recovery always reads
// segments in id order. Grounded on the teacher's heap segment naming
// (`<base>_%03d.data`), widened to six digits since a long-lived database's
// WAL rotates far more often than its old document heap did.
const segmentNamePattern = "%06d.wal"

func segmentPath(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf(segmentNamePattern, id))
}

// listSegmentIDs returns every segment id found in dir, ascending.
func listSegmentIDs(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".wal") {
			continue
		}
		idStr := strings.TrimSuffix(name, ".wal")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}
