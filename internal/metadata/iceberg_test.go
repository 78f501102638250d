package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGeneratorCreatesMetadata(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "features")
	df := DataFile{
		Path:        "s3://bucket/features/symbol=SHIBUSDT/2026/08/27/06/file.parquet",
		FileSize:    100,
		RecordCount: 10,
		Partition: map[string]any{
			"symbol": "SHIBUSDT",
			"date":   "2026-08-27",
		},
		Timestamp: time.Unix(1, 0),
	}
	if err := gen.AddFile(df); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	metaPath := filepath.Join(dir, "metadata", "metadata.json")
	b, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	var tm TableMetadata
	if err := json.Unmarshal(b, &tm); err != nil {
		t.Fatalf("metadata not valid json: %v", err)
	}
	if len(tm.Snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(tm.Snapshots))
	}
	if tm.CurrentSnapshotID != tm.Snapshots[0].SnapshotID {
		t.Fatalf("current snapshot id %d does not match %d", tm.CurrentSnapshotID, tm.Snapshots[0].SnapshotID)
	}
	if len(tm.Schemas) != 1 || len(tm.Schemas[0].Fields) != 17 {
		t.Fatalf("unexpected schema: %+v", tm.Schemas)
	}
	if tm.Schemas[0].Fields[0].Name != "symbol" || tm.Schemas[0].Fields[1].Name != "timestamp" {
		t.Fatalf("key columns missing: %+v", tm.Schemas[0].Fields[:2])
	}
	if len(tm.PartitionSpecs) != 1 || len(tm.PartitionSpecs[0].Fields) != 2 {
		t.Fatalf("unexpected partition spec: %+v", tm.PartitionSpecs)
	}
	if tm.PartitionSpecs[0].Fields[0].Name != "symbol" || tm.PartitionSpecs[0].Fields[1].Name != "date" {
		t.Fatalf("partition fields = %+v, want symbol/date", tm.PartitionSpecs[0].Fields)
	}

	catalogDir := filepath.Join(dir, "catalog")
	if err := gen.WriteCatalogEntry(catalogDir); err != nil {
		t.Fatalf("catalog entry: %v", err)
	}
	if _, err := os.Stat(filepath.Join(catalogDir, "features.json")); err != nil {
		t.Fatalf("catalog entry not written: %v", err)
	}
}

func TestGeneratorAccumulatesSnapshots(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "features")
	for i := 1; i <= 3; i++ {
		df := DataFile{
			Path:        "s3://bucket/features/file.parquet",
			FileSize:    int64(i),
			RecordCount: int64(i),
			Partition:   map[string]any{"symbol": "PEPEUSDT"},
			Timestamp:   time.Unix(int64(i), 0),
		}
		if err := gen.AddFile(df); err != nil {
			t.Fatalf("AddFile %d: %v", i, err)
		}
	}
	b, err := os.ReadFile(filepath.Join(dir, "metadata", "metadata.json"))
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	var tm TableMetadata
	if err := json.Unmarshal(b, &tm); err != nil {
		t.Fatalf("metadata not valid json: %v", err)
	}
	if len(tm.Snapshots) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(tm.Snapshots))
	}
}
