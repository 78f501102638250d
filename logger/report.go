package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream   int64
	errorsTrading  int64
	warnsStream    int64
	warnsTrading   int64
	marketTicks    int64
	privateUpdates int64
	featureRows    int64
	s3Flushes      int64
	channels       sync.Map // map[string]*channelStat
)

func isStreamComponent(component string) bool {
	return strings.Contains(component, "source") || strings.Contains(component, "state")
}

func isTradingComponent(component string) bool {
	return strings.Contains(component, "trade") || strings.Contains(component, "quoter") || strings.Contains(component, "maker")
}

func recordWarn(component string) {
	if isStreamComponent(component) {
		atomic.AddInt64(&warnsStream, 1)
	} else if isTradingComponent(component) {
		atomic.AddInt64(&warnsTrading, 1)
	}
}

func recordError(component string) {
	if isStreamComponent(component) {
		atomic.AddInt64(&errorsStream, 1)
	} else if isTradingComponent(component) {
		atomic.AddInt64(&errorsTrading, 1)
	}
}

func IncrementMarketTick(size int) {
	atomic.AddInt64(&marketTicks, 1)
	recordChannel("market_ws", size)
}

func IncrementPrivateUpdate(size int) {
	atomic.AddInt64(&privateUpdates, 1)
	recordChannel("private_ws", size)
}

func IncrementFeatureRows(n int64) {
	atomic.AddInt64(&featureRows, n)
}

func IncrementS3Flush(size int64) {
	atomic.AddInt64(&s3Flushes, 1)
	recordChannel("s3_feature_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_stream":   atomic.LoadInt64(&errorsStream),
		"errors_trading":  atomic.LoadInt64(&errorsTrading),
		"warns_stream":    atomic.LoadInt64(&warnsStream),
		"warns_trading":   atomic.LoadInt64(&warnsTrading),
		"market_ticks":    atomic.LoadInt64(&marketTicks),
		"private_updates": atomic.LoadInt64(&privateUpdates),
		"feature_rows":    atomic.LoadInt64(&featureRows),
		"s3_flushes":      atomic.LoadInt64(&s3Flushes),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_stream"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsTrading"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_trading"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_stream"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsTrading"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_trading"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MarketTicks"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["market_ticks"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("PrivateUpdates"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["private_updates"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("FeatureRows"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["feature_rows"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("S3Flushes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["s3_flushes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
