package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	metricReconnects   = "Desk-Reconnects"
	metricParseErrors  = "Desk-ParseErrors"
	metricServerErrors = "Desk-ServerErrors"
	metricAPIFailures  = "Desk-APIFailures"
	metricArchived     = "Desk-ArchivedPositions"
	metricWarns        = "Desk-Warns"
	metricErrors       = "Desk-Errors"
	metricMessages     = "Desk-Messages"
	metricBytes        = "Desk-Bytes"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	warnsTotal   int64
	errorsTotal  int64
	reconnects   int64
	parseErrors  int64
	serverErrors int64
	apiFailures  int64
	archived     int64
	channels     sync.Map // map[string]*channelStat
	componentMu  sync.Mutex
	componentLog = map[string]int64{}
)

func recordWarn(component string) {
	atomic.AddInt64(&warnsTotal, 1)
	bumpComponent(component)
}

func recordError(component string) {
	atomic.AddInt64(&errorsTotal, 1)
	bumpComponent(component)
}

func bumpComponent(component string) {
	componentMu.Lock()
	componentLog[component]++
	componentMu.Unlock()
}

// IncrementReconnect counts a scheduled reconnect attempt.
func IncrementReconnect() { atomic.AddInt64(&reconnects, 1) }

// IncrementParseError counts an inbound frame that could not be decoded.
func IncrementParseError() { atomic.AddInt64(&parseErrors, 1) }

// IncrementServerError counts an error message pushed by the backend.
func IncrementServerError() { atomic.AddInt64(&serverErrors, 1) }

// IncrementAPIFailure counts a failed REST call.
func IncrementAPIFailure() { atomic.AddInt64(&apiFailures, 1) }

// IncrementArchived counts closed positions written to the archive.
func IncrementArchived(n int) { atomic.AddInt64(&archived, int64(n)) }

// RecordChannelMessage counts a message of the given size on a named stream.
func RecordChannelMessage(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// Counters is a point-in-time copy of the report counters.
type Counters struct {
	Warns        int64
	Errors       int64
	Reconnects   int64
	ParseErrors  int64
	ServerErrors int64
	APIFailures  int64
	Archived     int64
	Channels     map[string]map[string]int64
	Components   map[string]int64
}

// ReadCounters returns the current counters.
func ReadCounters() Counters {
	c := Counters{
		Warns:        atomic.LoadInt64(&warnsTotal),
		Errors:       atomic.LoadInt64(&errorsTotal),
		Reconnects:   atomic.LoadInt64(&reconnects),
		ParseErrors:  atomic.LoadInt64(&parseErrors),
		ServerErrors: atomic.LoadInt64(&serverErrors),
		APIFailures:  atomic.LoadInt64(&apiFailures),
		Archived:     atomic.LoadInt64(&archived),
		Channels:     map[string]map[string]int64{},
		Components:   map[string]int64{},
	}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		c.Channels[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})
	componentMu.Lock()
	for k, v := range componentLog {
		c.Components[k] = v
	}
	componentMu.Unlock()
	return c
}

// StartReport logs the counters every interval and publishes them to
// CloudWatch when it has been initialised.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	c := ReadCounters()

	log.WithComponent("report").WithFields(Fields{
		"warns":         c.Warns,
		"errors":        c.Errors,
		"reconnects":    c.Reconnects,
		"parse_errors":  c.ParseErrors,
		"server_errors": c.ServerErrors,
		"api_failures":  c.APIFailures,
		"archived":      c.Archived,
		"goroutines":    runtime.NumGoroutine(),
		"channels":      c.Channels,
		"components":    c.Components,
	}).Info("runtime report")

	publishMetrics(ctx, reportDatums(c))
}

func reportDatums(c Counters) []cwtypes.MetricDatum {
	count := func(name string, v int64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(v))}
	}

	data := []cwtypes.MetricDatum{
		count(metricWarns, c.Warns),
		count(metricErrors, c.Errors),
		count(metricReconnects, c.Reconnects),
		count(metricParseErrors, c.ParseErrors),
		count(metricServerErrors, c.ServerErrors),
		count(metricAPIFailures, c.APIFailures),
		count(metricArchived, c.Archived),
	}

	for name, stats := range c.Channels {
		dims := []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String(metricMessages), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["messages"]))},
			cwtypes.MetricDatum{MetricName: aws.String(metricBytes), Unit: cwtypes.StandardUnitBytes, Dimensions: dims, Value: aws.Float64(float64(stats["bytes"]))},
		)
	}
	return data
}
