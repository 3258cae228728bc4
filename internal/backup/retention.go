package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// snapshotPrefix scopes the service to its own files. The snapshot directory
// may be shared with other artifacts; retention must never touch those.
const snapshotPrefix = "hearth-"

// snapshotName builds the file name for a snapshot taken at t. Microsecond
// precision keeps rapid manual snapshots from colliding.
func snapshotName(t time.Time) string {
	return fmt.Sprintf("%s%s.db", snapshotPrefix, t.Format("20060102-150405.000000"))
}

// listSnapshots returns this service's snapshots in dir, newest first.
func listSnapshots(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read snapshot directory: %w", err)
	}

	var snapshots []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Info{
			Path:      filepath.Join(dir, name),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// retentionTiers orders the age tiers youngest first. A snapshot falls into
// the first tier whose cutoff its age is below; older than the last cutoff
// means unconditional deletion.
var retentionTiers = []struct {
	maxAge time.Duration
	keep   func(Policy) int
}{
	{24 * time.Hour, func(p Policy) int { return p.Hourly }},
	{7 * 24 * time.Hour, func(p Policy) int { return p.Daily }},
	{30 * 24 * time.Hour, func(p Policy) int { return p.Weekly }},
	{365 * 24 * time.Hour, func(p Policy) int { return p.Monthly }},
}

// applyRetention prunes snapshots beyond each tier's cap. Within a tier the
// newest snapshots survive.
func applyRetention(dir string, policy Policy) error {
	snapshots, err := listSnapshots(dir)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	now := time.Now()
	kept := make([]int, len(retentionTiers))
	var toDelete []string

	// listSnapshots is newest first, so counting per tier keeps the
	// newest members of each tier.
	for _, snap := range snapshots {
		age := now.Sub(snap.Timestamp)
		tier := -1
		for i, t := range retentionTiers {
			if age < t.maxAge {
				tier = i
				break
			}
		}
		if tier < 0 {
			toDelete = append(toDelete, snap.Path)
			continue
		}
		if kept[tier] >= retentionTiers[tier].keep(policy) {
			toDelete = append(toDelete, snap.Path)
			continue
		}
		kept[tier]++
	}

	var lastErr error
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("backup: failed to delete some snapshots: %w", lastErr)
	}
	return nil
}

// diskUsage sums the size of every snapshot in dir.
func diskUsage(dir string) (int64, error) {
	snapshots, err := listSnapshots(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, snap := range snapshots {
		total += snap.Size
	}
	return total, nil
}
