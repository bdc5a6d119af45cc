package objstore

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MinFreeSpaceMB is the floor of available space on the uploads volume
// below which new uploads are refused.
const MinFreeSpaceMB = 64

// DiskSpace describes the filesystem backing a directory.
type DiskSpace struct {
	TotalMB     uint64
	AvailableMB uint64
	UsedPercent float64
}

// CheckDiskSpace stats the filesystem holding path.
func CheckDiskSpace(path string) (DiskSpace, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskSpace{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	totalMB := (stat.Blocks * uint64(stat.Bsize)) / (1024 * 1024)
	availableMB := (stat.Bavail * uint64(stat.Bsize)) / (1024 * 1024)

	var usedPercent float64
	if totalMB > 0 {
		usedPercent = float64(totalMB-availableMB) / float64(totalMB) * 100
	}

	return DiskSpace{
		TotalMB:     totalMB,
		AvailableMB: availableMB,
		UsedPercent: usedPercent,
	}, nil
}

// EnsureSpace fails when the uploads volume has less than requiredMB
// available. Usage above 90% logs a warning but does not fail.
func (s *Store) EnsureSpace(requiredMB uint64) error {
	info, err := CheckDiskSpace(s.opts.UploadDir)
	if err != nil {
		return err
	}

	if info.AvailableMB < requiredMB {
		return fmt.Errorf("insufficient disk space on %s: need %d MB, available %d MB (%.1f%% used)",
			s.opts.UploadDir, requiredMB, info.AvailableMB, info.UsedPercent)
	}

	if info.UsedPercent > 90 {
		s.log.Warn("uploads volume is nearly full", map[string]interface{}{
			"dir":          s.opts.UploadDir,
			"available_mb": info.AvailableMB,
			"used_percent": fmt.Sprintf("%.1f", info.UsedPercent),
		})
	}
	return nil
}
