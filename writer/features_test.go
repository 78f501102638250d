package writer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	appconfig "gridflow/config"
	"gridflow/internal/features"
)

func testWriter() *FeatureWriter {
	return &FeatureWriter{
		config: &appconfig.Config{
			Gridflow: appconfig.GridflowConfig{Name: "test", Version: "0"},
			Writer: appconfig.WriterConfig{
				BatchSize:     4,
				FlushInterval: time.Minute,
				Compression:   "snappy",
			},
		},
		flushC: make(chan struct{}, 1),
	}
}

func TestCreateParquetFile(t *testing.T) {
	w := testWriter()
	rows := []features.FeatureSnapshot{
		{Symbol: "BTCUSDT", MidPrice: 100.5, Skew: 0.2, Timestamp: 1000},
		{Symbol: "BTCUSDT", MidPrice: 100.6, Skew: -0.1, Timestamp: 1001},
	}
	data, err := w.createParquetFile(rows)
	if err != nil {
		t.Fatalf("createParquetFile failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty parquet output")
	}
	// Parquet files end with the magic bytes "PAR1".
	if !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Error("output missing parquet magic footer")
	}
}

func TestFeatureS3KeyPartitioning(t *testing.T) {
	ts := time.Date(2026, 3, 7, 14, 30, 0, 0, time.UTC)
	key := featureS3Key("ETHUSDT", ts)
	if !strings.HasPrefix(key, "features/symbol=ETHUSDT/2026/03/07/14/") {
		t.Errorf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Errorf("key missing extension: %s", key)
	}
	if strings.Contains(key, "\\") {
		t.Errorf("key contains backslashes: %s", key)
	}
}

func TestRecordSignalsOnFullBatch(t *testing.T) {
	w := testWriter()
	for i := 0; i < 3; i++ {
		w.Record(features.FeatureSnapshot{Symbol: "BTCUSDT"})
	}
	select {
	case <-w.flushC:
		t.Fatal("flush signalled before batch size reached")
	default:
	}
	w.Record(features.FeatureSnapshot{Symbol: "BTCUSDT"})
	select {
	case <-w.flushC:
	default:
		t.Fatal("flush not signalled at batch size")
	}
}
