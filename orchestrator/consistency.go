package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// ConsistencyReport flags drift between the store and the filesystem
// without mutating anything, letting an operator decide whether to run
// incremental_sync or investigate further.
type ConsistencyReport struct {
	FilesOnDiskNotInStore []string
	FilesInStoreNotOnDisk []string
	FilesWithStaleHash    []string // on disk and in store, but content_hash no longer matches
}

// ConsistencyScan compares what discovery finds on disk against the
// store's files table, read-only. It supplements full_index/
// incremental_sync by answering "is the index still faithful to disk"
// without doing any of the (expensive) work of fixing it.
func (o *Orchestrator) ConsistencyScan(ctx context.Context) (ConsistencyReport, error) {
	var report ConsistencyReport

	found, err := discoverFiles(o.root, o.cfg.IgnorePatterns)
	if err != nil {
		return report, fmt.Errorf("orchestrator: discovering files: %w", err)
	}

	onDisk := make(map[string]candidateFile, len(found))
	for _, cf := range found {
		onDisk[cf.RelPath] = cf
	}

	rows, err := o.store.DB().QueryContext(ctx, "SELECT path, content_hash FROM files")
	if err != nil {
		return report, fmt.Errorf("orchestrator: listing stored files: %w", err)
	}
	inStore := map[string]string{}
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			rows.Close()
			return report, err
		}
		inStore[path] = hash
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return report, err
	}
	rows.Close()

	for path, cf := range onDisk {
		storedHash, known := inStore[path]
		if !known {
			report.FilesOnDiskNotInStore = append(report.FilesOnDiskNotInStore, path)
			continue
		}
		content, err := os.ReadFile(cf.AbsPath)
		if err != nil {
			continue
		}
		sum := sha256.Sum256(content)
		if hex.EncodeToString(sum[:]) != storedHash {
			report.FilesWithStaleHash = append(report.FilesWithStaleHash, path)
		}
	}
	for path := range inStore {
		if _, known := onDisk[path]; !known {
			report.FilesInStoreNotOnDisk = append(report.FilesInStoreNotOnDisk, path)
		}
	}

	return report, nil
}
