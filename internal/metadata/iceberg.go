// Package metadata maintains Iceberg v2 table metadata alongside the
// parquet feature files uploaded to S3, so the feature table can be
// registered in a catalog and queried without listing the bucket.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DataFile describes a single parquet feature file written by the
// pipeline. Partition carries the symbol/date values the writer used
// when building the object key.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry mirrors the information kept in an Iceberg manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot holds minimal information required for time-travel queries.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
}

// SchemaField is one column of the table schema.
type SchemaField struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Type     string `json:"type"`
}

// Schema is an Iceberg struct schema.
type Schema struct {
	SchemaID int           `json:"schema-id"`
	Type     string        `json:"type"`
	Fields   []SchemaField `json:"fields"`
}

// PartitionField maps a source column into a partition value.
type PartitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

// PartitionSpec is the table's partitioning layout.
type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

// TableMetadata represents the high level Iceberg table metadata file.
type TableMetadata struct {
	FormatVersion     int             `json:"format-version"`
	TableUUID         string          `json:"table-uuid"`
	Location          string          `json:"location"`
	CurrentSchemaID   int             `json:"current-schema-id"`
	Schemas           []Schema        `json:"schemas"`
	DefaultSpecID     int             `json:"default-spec-id"`
	PartitionSpecs    []PartitionSpec `json:"partition-specs"`
	CurrentSnapshotID int64           `json:"current-snapshot-id"`
	Snapshots         []Snapshot      `json:"snapshots"`
}

// featureSchema matches the parquet layout of the feature rows: one
// string key column, one epoch-millis timestamp, and the double-valued
// microstructure features.
func featureSchema() Schema {
	names := []string{
		"mid_price", "imbalance", "deep_imbalance", "ofi", "deep_ofi",
		"voi", "trade_imbalance", "price_impact", "expected_value",
		"improved_expected_value", "mid_price_basis", "volatility",
		"avg_trade_price", "predicted_return", "skew",
	}
	fields := []SchemaField{
		{ID: 1, Name: "symbol", Required: true, Type: "string"},
		{ID: 2, Name: "timestamp", Required: true, Type: "long"},
	}
	for i, n := range names {
		fields = append(fields, SchemaField{ID: i + 3, Name: n, Type: "double"})
	}
	return Schema{SchemaID: 0, Type: "struct", Fields: fields}
}

// featurePartitionSpec partitions by symbol and day, matching the
// symbol/date prefix layout of the uploaded objects.
func featurePartitionSpec() PartitionSpec {
	return PartitionSpec{
		SpecID: 0,
		Fields: []PartitionField{
			{SourceID: 1, FieldID: 1000, Name: "symbol", Transform: "identity"},
			{SourceID: 2, FieldID: 1001, Name: "date", Transform: "day"},
		},
	}
}

// Generator incrementally builds Iceberg metadata for the feature table.
type Generator struct {
	basePath  string
	tableName string
	tableUUID string
	snapshots []Snapshot
}

// NewGenerator returns a metadata generator rooted at basePath.
func NewGenerator(basePath, tableName string) *Generator {
	return &Generator{
		basePath:  basePath,
		tableName: tableName,
		tableUUID: uuid.NewString(),
	}
}

// AddFile records a newly written parquet file and updates metadata.
func (g *Generator) AddFile(df DataFile) error {
	snapID := df.Timestamp.UnixNano()
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	manifestPath := filepath.Join(g.basePath, "metadata", manifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return err
	}
	entry := ManifestEntry{Status: 1, DataFile: df}
	b, err := json.Marshal([]ManifestEntry{entry})
	if err != nil {
		return err
	}
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return err
	}
	snapshot := Snapshot{
		SnapshotID:  snapID,
		TimestampMs: df.Timestamp.UnixMilli(),
		Manifest:    manifestFile,
	}
	g.snapshots = append(g.snapshots, snapshot)
	return g.writeTableMetadata()
}

func (g *Generator) writeTableMetadata() error {
	if len(g.snapshots) == 0 {
		return nil
	}
	tm := TableMetadata{
		FormatVersion:     2,
		TableUUID:         g.tableUUID,
		Location:          g.basePath,
		CurrentSchemaID:   0,
		Schemas:           []Schema{featureSchema()},
		DefaultSpecID:     0,
		PartitionSpecs:    []PartitionSpec{featurePartitionSpec()},
		CurrentSnapshotID: g.snapshots[len(g.snapshots)-1].SnapshotID,
		Snapshots:         g.snapshots,
	}
	metaPath := filepath.Join(g.basePath, "metadata", "metadata.json")
	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, b, 0o644)
}

// WriteCatalogEntry creates a simple catalog entry pointing at the table metadata.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
	metaLoc := filepath.Join(g.basePath, "metadata", "metadata.json")
	entry := map[string]string{
		"name":              g.tableName,
		"metadata_location": metaLoc,
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(catalogDir, fmt.Sprintf("%s.json", g.tableName))
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
