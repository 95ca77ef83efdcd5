package memory

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"
)

// CollectStats aggregates the counters described for Stats/Status:
// distinct hot records for userID plus the archive line count, current
// byte sizes of each tier, and the write queue's lifetime counters.
func CollectStats(ctx context.Context, hot *HotStore, archive *Archive, wq *WriteQueue, userID string) (Stats, error) {
	hotCount, err := hot.CountForUser(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	archiveLines, err := archive.LineCount()
	if err != nil {
		return Stats{}, err
	}
	hotSize, err := hot.SizeBytes()
	if err != nil {
		return Stats{}, err
	}
	archiveSize, err := archive.SizeBytes()
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		TotalMemories:    hotCount + archiveLines,
		HotSizeBytes:     hotSize,
		ArchiveSizeBytes: archiveSize,
		WriteQueue:       wq.Stats(),
		LastUpdated:      time.Now().UTC(),
	}, nil
}

// WriteStatusSnapshot serializes stats to dataDir/mem0-status.json
// atomically (write-temp-then-rename).
func WriteStatusSnapshot(dataDir string, stats Stats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dataDir, "mem0-status.json"), data)
}
