package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/llmc-dev/rag-core/store"
)

// IndexStats reports what one full_index or incremental_sync pass did.
type IndexStats struct {
	FilesSeen      int
	FilesIndexed   int // files that were (re)sliced and stored
	FilesUnchanged int
	FilesDeleted   int
	SpansInserted  int
	SpansPreserved int
	SpansRemoved   int
}

// FullIndex discovers every file under the repo root, slices all of them
// regardless of prior state, and reconciles the store so it holds exactly
// the files currently on disk.
func (o *Orchestrator) FullIndex(ctx context.Context) (IndexStats, error) {
	return o.index(ctx, true)
}

// IncrementalSync discovers every file under the repo root but only
// re-slices files whose content hash changed since the last pass, and
// removes files that disappeared from disk. A file whose mtime matches the
// stored row is skipped without being read.
func (o *Orchestrator) IncrementalSync(ctx context.Context) (IndexStats, error) {
	return o.index(ctx, false)
}

func (o *Orchestrator) index(ctx context.Context, full bool) (IndexStats, error) {
	if err := o.lock.Acquire(ctx); err != nil {
		return IndexStats{}, fmt.Errorf("orchestrator: acquiring repo lock: %w", err)
	}
	defer o.lock.Release()

	var stats IndexStats

	o.setState(ctx, StateDiscovering)
	found, err := discoverFiles(o.root, o.cfg.IgnorePatterns)
	if err != nil {
		return stats, fmt.Errorf("orchestrator: discovering files: %w", err)
	}
	stats.FilesSeen = len(found)

	onDisk := make(map[string]bool, len(found))

	o.setState(ctx, StateSlicing)
	for _, cf := range found {
		onDisk[cf.RelPath] = true

		existing, getErr := o.store.GetFileByPath(ctx, cf.RelPath)
		haveExisting := getErr == nil
		if !full && haveExisting && existing.Mtime == cf.Mtime {
			stats.FilesUnchanged++
			continue
		}

		content, err := os.ReadFile(cf.AbsPath)
		if err != nil {
			continue // file vanished or became unreadable between discovery and read
		}

		contentHash := hashContent(content)
		if !full && haveExisting && existing.ContentHash == contentHash {
			// mtime moved (e.g. a touch) but content is byte-identical.
			stats.FilesUnchanged++
			continue
		}

		language := detectLanguage(cf.RelPath)
		spans, _ := o.slicer.Slice(cf.RelPath, content, language)

		o.setState(ctx, StateStoring)
		fileID, err := o.store.UpsertFile(ctx, cf.RelPath, cf.Mtime, contentHash)
		if err != nil {
			return stats, fmt.Errorf("orchestrator: upserting file %s: %w", cf.RelPath, err)
		}

		weight := classifyPathWeight(cf.RelPath, o.cfg.WeightTable)
		inputs := buildSpanInputs(spans, content, weight)

		diff, err := o.store.ReplaceSpans(ctx, fileID, inputs)
		if err != nil {
			return stats, fmt.Errorf("orchestrator: replacing spans for %s: %w", cf.RelPath, err)
		}
		stats.FilesIndexed++
		stats.SpansInserted += diff.Inserted
		stats.SpansPreserved += diff.Preserved
		stats.SpansRemoved += diff.Removed
	}

	if err := o.reconcileDeletedFiles(ctx, onDisk, &stats); err != nil {
		return stats, err
	}

	now := time.Now().UTC()
	if full {
		if err := o.store.RecordFullIndex(ctx, now); err != nil {
			return stats, fmt.Errorf("orchestrator: recording full index: %w", err)
		}
	} else {
		if err := o.store.RecordIncrementalSync(ctx, now); err != nil {
			return stats, fmt.Errorf("orchestrator: recording incremental sync: %w", err)
		}
	}

	if err := o.refreshStatus(ctx); err != nil {
		return stats, err
	}
	o.setState(ctx, StateIdle)
	return stats, nil
}

// reconcileDeletedFiles removes files the store knows about that no
// longer exist on disk. It scans the store's whole files table and deletes
// every row whose path is not in the on-disk set FullIndex/IncrementalSync
// discovered this pass.
func (o *Orchestrator) reconcileDeletedFiles(ctx context.Context, onDisk map[string]bool, stats *IndexStats) error {
	rows, err := o.store.DB().QueryContext(ctx, "SELECT id, path FROM files")
	if err != nil {
		return fmt.Errorf("orchestrator: listing stored files: %w", err)
	}
	type stale struct {
		id   int64
		path string
	}
	var toDelete []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.path); err != nil {
			rows.Close()
			return err
		}
		if !onDisk[s.path] {
			toDelete = append(toDelete, s)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, s := range toDelete {
		if err := o.store.DeleteFile(ctx, s.id); err != nil {
			return fmt.Errorf("orchestrator: deleting vanished file %s: %w", s.path, err)
		}
		stats.FilesDeleted++
	}
	return nil
}

func hashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
