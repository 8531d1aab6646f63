package core

// PartitionStats summarizes one published cleaned partition.
type PartitionStats struct {
	RowCount int `json:"row_count"`
	// Fingerprint is a SHA-256 hex digest over the natural key values of
	// every row in table order. Empty when the table has no key columns.
	Fingerprint   string  `json:"sha256_fingerprint"`
	MaxIngestedAt *string `json:"max_ingested_at"`
	MinIngestedAt *string `json:"min_ingested_at"`
}

// Metadata columns stamped onto every raw batch.
const (
	ColumnSource          = "source"
	ColumnPipelineVersion = "pipeline_version"
	ColumnRunID           = "run_id"
	ColumnIngestedAt      = "ingested_at"
)
