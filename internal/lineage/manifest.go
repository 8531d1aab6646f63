// Package lineage maintains the ledger of what each run changed: per dataset,
// when it was last ingested, how many rows the last batch carried, which
// partitions changed and the statistics of every published partition.
//
// The ledger operations are pure. They return a new Manifest and never
// modify their input; persisting is the caller's job and happens once per
// run.
package lineage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/statlake/pkg/core"
)

// DefaultPath is where the ledger lives relative to the working directory.
const DefaultPath = "catalog/lineage.json"

// Manifest maps dataset names to their ledger entries.
type Manifest map[string]DatasetRecord

// DatasetRecord is the ledger entry of one dataset.
type DatasetRecord struct {
	LastIngestUTC     string                         `json:"last_ingest_utc"`
	RowsLastBatch     int                            `json:"rows_last_batch"`
	ChangedPartitions []string                       `json:"changed_partitions"`
	Partitions        map[string]core.PartitionStats `json:"partitions"`
}

// Load reads the manifest at path. A missing file is an empty manifest.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read lineage: %w", err)
	}
	m := Manifest{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse lineage %s: %w", path, err)
	}
	return m, nil
}

// Save overwrites the manifest at path. The file is written next to its
// destination and renamed over it, so a crash leaves either the old or the
// new ledger.
func Save(path string, m Manifest) error {
	if m == nil {
		m = Manifest{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode lineage: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create lineage directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".lineage-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write lineage: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync lineage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close lineage: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace lineage: %w", err)
	}
	return nil
}

// UpdateDataset records a completed ingestion of dataset. Stats are merged
// into the existing partition map; partitions not mentioned keep their
// previous statistics.
func UpdateDataset(m Manifest, dataset string, ts time.Time, rows int, changed []string, stats map[string]core.PartitionStats) Manifest {
	out := m.Clone()
	rec := out[dataset]
	rec.LastIngestUTC = ts.UTC().Format(time.RFC3339)
	rec.RowsLastBatch = rows
	rec.ChangedPartitions = append([]string{}, changed...)
	if rec.Partitions == nil {
		rec.Partitions = make(map[string]core.PartitionStats, len(stats))
	}
	for part, st := range stats {
		rec.Partitions[part] = st
	}
	out[dataset] = rec
	return out
}

// RecordFailure marks a failed ingestion of dataset: the batch is empty and
// nothing changed, while earlier partition statistics stay as they were.
func RecordFailure(m Manifest, dataset string, ts time.Time) Manifest {
	return UpdateDataset(m, dataset, ts, 0, nil, nil)
}

// RecordPartitionCount sets the row count of one partition, keeping every
// other statistic.
func RecordPartitionCount(m Manifest, dataset, partition string, rows int) Manifest {
	out := m.Clone()
	rec := out[dataset]
	if rec.Partitions == nil {
		rec.Partitions = make(map[string]core.PartitionStats)
	}
	st := rec.Partitions[partition]
	st.RowCount = rows
	rec.Partitions[partition] = st
	out[dataset] = rec
	return out
}

// Clone returns a deep copy of m.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for name, rec := range m {
		c := rec
		c.ChangedPartitions = append([]string(nil), rec.ChangedPartitions...)
		if rec.Partitions != nil {
			c.Partitions = make(map[string]core.PartitionStats, len(rec.Partitions))
			for k, v := range rec.Partitions {
				c.Partitions[k] = v
			}
		}
		out[name] = c
	}
	return out
}
