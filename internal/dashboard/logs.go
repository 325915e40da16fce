package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type logRecord struct {
	Seq       uint64                 `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`

	level logrus.Level
}

// logRing is a logrus hook keeping the last entries in a fixed ring. Each
// record carries a sequence number so pollers can ask for newer entries only.
type logRing struct {
	mu      sync.RWMutex
	items   []logRecord
	next    int
	full    bool
	seq     uint64
	enabled atomic.Bool
}

func newLogRing(size int) *logRing {
	if size <= 0 {
		size = 200
	}
	r := &logRing{items: make([]logRecord, size)}
	r.enabled.Store(true)
	return r
}

func (r *logRing) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (r *logRing) Fire(entry *logrus.Entry) error {
	if !r.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		level:     entry.Level,
	}
	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}
	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}
			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	r.mu.Lock()
	r.seq++
	record.Seq = r.seq
	r.items[r.next] = record
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return nil
}

// since returns records newer than seq at or above minLevel, oldest first.
func (r *logRing) since(seq uint64, minLevel logrus.Level) []logRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, n := 0, r.next
	if r.full {
		start, n = r.next, len(r.items)
	}
	out := make([]logRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := r.items[(start+i)%len(r.items)]
		if rec.Seq <= seq || rec.level > minLevel {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (r *logRing) close() {
	r.enabled.Store(false)
}
