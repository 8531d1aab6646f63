// Package core defines the shared language of the statlake system.
//
// This package contains:
//   - Storage vocabulary (Layer)
//   - Run bookkeeping entities (Run, DatasetRun)
//   - Partition statistics shared by promotion and the lineage ledger
//   - Service interfaces (Store)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
