package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "gridflow/config"
	"gridflow/internal/features"
	"gridflow/internal/metadata"
	"gridflow/logger"
)

// FeatureRecord is the parquet row for one computed feature snapshot.
type FeatureRecord struct {
	Symbol                string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp             int64   `parquet:"name=timestamp, type=INT64"`
	MidPrice              float64 `parquet:"name=mid_price, type=DOUBLE"`
	Imbalance             float64 `parquet:"name=imbalance, type=DOUBLE"`
	DeepImbalance         float64 `parquet:"name=deep_imbalance, type=DOUBLE"`
	OFI                   float64 `parquet:"name=ofi, type=DOUBLE"`
	DeepOFI               float64 `parquet:"name=deep_ofi, type=DOUBLE"`
	VOI                   float64 `parquet:"name=voi, type=DOUBLE"`
	TradeImbalance        float64 `parquet:"name=trade_imbalance, type=DOUBLE"`
	PriceImpact           float64 `parquet:"name=price_impact, type=DOUBLE"`
	ExpectedValue         float64 `parquet:"name=expected_value, type=DOUBLE"`
	ImprovedExpectedValue float64 `parquet:"name=improved_expected_value, type=DOUBLE"`
	MidPriceBasis         float64 `parquet:"name=mid_price_basis, type=DOUBLE"`
	Volatility            float64 `parquet:"name=volatility, type=DOUBLE"`
	AvgTradePrice         float64 `parquet:"name=avg_trade_price, type=DOUBLE"`
	PredictedReturn       float64 `parquet:"name=predicted_return, type=DOUBLE"`
	Skew                  float64 `parquet:"name=skew, type=DOUBLE"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)  { return mfw, nil }

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// FeatureWriter buffers feature snapshots and flushes them to S3 as
// parquet files, partitioned by symbol and hour. Record never blocks
// the trading loop; flushing happens on a background worker.
type FeatureWriter struct {
	config   *appconfig.Config
	s3Client *s3.Client
	metaGen  *metadata.Generator
	log      *logger.Log

	mu      sync.Mutex
	buffer  []features.FeatureSnapshot
	flushC  chan struct{}
	running bool

	wg sync.WaitGroup
}

// NewFeatureWriter builds the S3 client and validates credentials up
// front so a misconfigured bucket fails at startup, not at first flush.
func NewFeatureWriter(cfg *appconfig.Config) (*FeatureWriter, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	// Iceberg metadata mirrors what lands in S3, so the table stays
	// queryable through a catalog without listing the bucket.
	var metaGen *metadata.Generator
	if metaDir, err := os.MkdirTemp("", "iceberg"); err != nil {
		log.WithComponent("feature_writer").WithError(err).Warn("metadata directory unavailable, skipping iceberg metadata")
	} else {
		metaGen = metadata.NewGenerator(metaDir, "features")
	}

	log.WithComponent("feature_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("feature writer initialized")

	return &FeatureWriter{
		config:   cfg,
		s3Client: s3Client,
		metaGen:  metaGen,
		log:      log,
		flushC:   make(chan struct{}, 1),
	}, nil
}

// Record buffers one snapshot and nudges the flush worker once the
// batch size is reached.
func (w *FeatureWriter) Record(snap features.FeatureSnapshot) {
	w.mu.Lock()
	w.buffer = append(w.buffer, snap)
	full := len(w.buffer) >= w.config.Writer.BatchSize
	w.mu.Unlock()

	logger.IncrementFeatureRows(1)
	if full {
		select {
		case w.flushC <- struct{}{}:
		default:
		}
	}
}

// Start launches the flush worker.
func (w *FeatureWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("feature writer already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.flushWorker(ctx)
	return nil
}

// Stop waits for the worker, which performs a final flush on the way out.
func (w *FeatureWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *FeatureWriter) flushWorker(ctx context.Context) {
	defer w.wg.Done()

	log := w.log.WithComponent("feature_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	ticker := time.NewTicker(w.config.Writer.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-ticker.C:
			w.flush("interval")
		case <-w.flushC:
			w.flush("batch_full")
		}
	}
}

func (w *FeatureWriter) flush(reason string) {
	w.mu.Lock()
	snaps := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(snaps) == 0 {
		return
	}

	// One file per symbol keeps the partitioning clean.
	bySymbol := make(map[string][]features.FeatureSnapshot)
	for _, s := range snaps {
		bySymbol[s.Symbol] = append(bySymbol[s.Symbol], s)
	}

	w.log.WithComponent("feature_writer").WithFields(logger.Fields{
		"rows":    len(snaps),
		"symbols": len(bySymbol),
		"reason":  reason,
	}).Info("flushing feature buffer")

	for symbol, rows := range bySymbol {
		w.writeBatch(symbol, rows)
	}
}

func (w *FeatureWriter) writeBatch(symbol string, rows []features.FeatureSnapshot) {
	log := w.log.WithComponent("feature_writer").WithFields(logger.Fields{
		"symbol": symbol,
		"rows":   len(rows),
	})

	data, err := w.createParquetFile(rows)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	key := featureS3Key(symbol, time.Now().UTC())
	if err := w.uploadToS3(key, data); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": w.config.Storage.S3.Bucket, "s3_key": key}).
			Error("failed to upload to S3")
		return
	}

	logger.IncrementS3Flush(int64(len(data)))
	log.WithFields(logger.Fields{"s3_key": key, "file_size": len(data)}).Info("feature batch uploaded")

	if w.metaGen != nil {
		now := time.Now().UTC()
		df := metadata.DataFile{
			Path:        fmt.Sprintf("s3://%s/%s", w.config.Storage.S3.Bucket, key),
			FileSize:    int64(len(data)),
			RecordCount: int64(len(rows)),
			Partition: map[string]any{
				"symbol": symbol,
				"date":   now.Format("2006-01-02"),
			},
			Timestamp: now,
		}
		if err := w.metaGen.AddFile(df); err != nil {
			log.WithError(err).Warn("failed to record iceberg metadata")
		}
	}
}

// featureS3Key builds the hive-style partition path for one batch.
func featureS3Key(symbol string, ts time.Time) string {
	key := filepath.Join(
		"features",
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("%04d/%02d/%02d/%02d", ts.Year(), ts.Month(), ts.Day(), ts.Hour()),
		fmt.Sprintf("features_%s_%s_%s.parquet", symbol, ts.Format("20060102150405"), uuid.New().String()[:8]),
	)
	return filepath.ToSlash(key)
}

func (w *FeatureWriter) createParquetFile(rows []features.FeatureSnapshot) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := pqwriter.NewParquetWriter(fw, new(FeatureRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch w.config.Writer.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, s := range rows {
		record := FeatureRecord{
			Symbol:                s.Symbol,
			Timestamp:             s.Timestamp,
			MidPrice:              s.MidPrice,
			Imbalance:             s.Imbalance,
			DeepImbalance:         s.DeepImbalance,
			OFI:                   s.OFI,
			DeepOFI:               s.DeepOFI,
			VOI:                   s.VOI,
			TradeImbalance:        s.TradeImbalance,
			PriceImpact:           s.PriceImpact,
			ExpectedValue:         s.ExpectedValue,
			ImprovedExpectedValue: s.ImprovedExpectedValue,
			MidPriceBasis:         s.MidPriceBasis,
			Volatility:            s.Volatility,
			AvgTradePrice:         s.AvgTradePrice,
			PredictedReturn:       s.PredictedReturn,
			Skew:                  s.Skew,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

func (w *FeatureWriter) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":     "parquet",
			"compression":      w.config.Writer.Compression,
			"gridflow-version": w.config.Gridflow.Version,
		},
	}
	if _, err := w.s3Client.PutObject(context.Background(), input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}
