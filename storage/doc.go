// Package storage persists the reconciliation record of a device.
//
// FileRecordStore keeps the record as a JSON file below the target root
// (DefaultRecordPath). Every transition is written with WriteFileAtomic:
// temp file, fsync, rename, then fsync of the directory, so a crash mid-write
// leaves the previous record intact. Files are created 0600 and directories
// 0700.
//
// Claimed is terminal. Once a record is claimed, Ensure, MarkPending and
// MarkClaimed return it unchanged.
package storage
