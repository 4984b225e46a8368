package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RotationConfig controls when and how log files roll over.
type RotationConfig struct {
	MaxSize    int64
	MaxAge     time.Duration
	MaxBackups int
}

// DefaultRotationConfig matches the house defaults: 100MB, 7 days,
// 5 backups.
func DefaultRotationConfig() *RotationConfig {
	return &RotationConfig{
		MaxSize:    100 * 1024 * 1024,
		MaxAge:     7 * 24 * time.Hour,
		MaxBackups: 5,
	}
}

func needsRotation(filePath string, maxSize int64) (bool, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Size() >= maxSize, nil
}

func rotateFile(basePath string) error {
	timestamp := time.Now().Format("20060102150405")
	rotatedPath := fmt.Sprintf("%s.%s", basePath, timestamp)
	return os.Rename(basePath, rotatedPath)
}

func cleanOldLogs(directory string, config *RotationConfig) error {
	files, err := filepath.Glob(filepath.Join(directory, "*.log.*"))
	if err != nil {
		return err
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}

	var logFiles []fileInfo
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		logFiles = append(logFiles, fileInfo{f, info.ModTime()})
	}

	now := time.Now()
	var kept []fileInfo
	for _, f := range logFiles {
		if now.Sub(f.modTime) > config.MaxAge {
			os.Remove(f.path)
			continue
		}
		kept = append(kept, f)
	}

	if config.MaxBackups > 0 && len(kept) > config.MaxBackups {
		sort.Slice(kept, func(i, j int) bool { return kept[i].modTime.After(kept[j].modTime) })
		for _, f := range kept[config.MaxBackups:] {
			os.Remove(f.path)
		}
	}

	return nil
}
