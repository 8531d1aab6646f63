package lineage

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/leapstack-labs/statlake/internal/table"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// KeySeparator joins the key values of one row before hashing.
const KeySeparator = "|"

// Fingerprint hashes the values of keys for every row of t, in table order.
// Key columns absent from t are ignored; with none left the fingerprint is
// empty. Nulls hash as the empty string.
func Fingerprint(t *table.Table, keys []string) string {
	present := t.Present(keys...)
	if len(present) == 0 {
		return ""
	}
	h := sha256.New()
	for i := 0; i < t.NumRows(); i++ {
		_, _ = h.Write([]byte(t.RowKey(i, present, KeySeparator)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Compute derives the statistics of a normalized partition table.
func Compute(t *table.Table, keys []string) core.PartitionStats {
	st := core.PartitionStats{
		RowCount:    t.NumRows(),
		Fingerprint: Fingerprint(t, keys),
	}
	if col, ok := t.Column(core.ColumnIngestedAt); ok {
		lo, hi := col.MinMax()
		st.MinIngestedAt = render(lo)
		st.MaxIngestedAt = render(hi)
	}
	return st
}

func render(v any) *string {
	if v == nil {
		return nil
	}
	s := table.FormatValue(v)
	return &s
}
