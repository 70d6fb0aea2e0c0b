package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loadscope/loadscope/pkg/config"
)

// DiskMonitor tracks the sample store's on-disk footprint with caching
// to avoid walking the data directory on every request.
type DiskMonitor struct {
	dataDir     string
	maxBytes    int64
	cachedUsage int64
	lastCheck   time.Time
	mu          sync.Mutex
}

// NewDiskMonitor creates a disk usage monitor for the data directory.
func NewDiskMonitor(dataDir string, maxBytes int64) *DiskMonitor {
	return &DiskMonitor{
		dataDir:  dataDir,
		maxBytes: maxBytes,
	}
}

// Usage returns the current disk usage in bytes. The value is cached
// and refreshed at most every config.DiskCheckInterval.
func (m *DiskMonitor) Usage() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < config.DiskCheckInterval {
		return m.cachedUsage, nil
	}

	usage, err := dirSize(m.dataDir)
	if err != nil {
		return 0, err
	}
	m.cachedUsage = usage
	m.lastCheck = time.Now()
	return usage, nil
}

// Limit returns the configured disk limit in bytes.
func (m *DiskMonitor) Limit() int64 {
	return m.maxBytes
}

// Exceeded reports whether usage is at or over the limit.
func (m *DiskMonitor) Exceeded() bool {
	usage, err := m.Usage()
	if err != nil {
		return false
	}
	return usage >= m.maxBytes
}

// dirSize recursively sums file sizes under a path.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
