package dashboard

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func fire(t *testing.T, r *logRing, level logrus.Level, msg string, data logrus.Fields) {
	t.Helper()
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Now()
	entry.Level = level
	entry.Message = msg
	entry.Data = data
	if err := r.Fire(entry); err != nil {
		t.Fatalf("Fire: %v", err)
	}
}

func TestLogRingWrapsOldestFirst(t *testing.T) {
	r := newLogRing(3)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		fire(t, r, logrus.InfoLevel, m, nil)
	}

	got := r.since(0, logrus.TraceLevel)
	if len(got) != 3 || got[0].Message != "c" || got[2].Message != "e" {
		t.Fatalf("unexpected ring contents %+v", got)
	}
	if got[0].Seq != 3 {
		t.Fatalf("expected seq 3 for oldest kept entry, got %d", got[0].Seq)
	}
	if newer := r.since(4, logrus.TraceLevel); len(newer) != 1 || newer[0].Message != "e" {
		t.Fatalf("unexpected since(4) %+v", newer)
	}
}

func TestLogRingCapturesFieldsAndStopsOnClose(t *testing.T) {
	r := newLogRing(5)
	fire(t, r, logrus.ErrorLevel, "boom", logrus.Fields{"component": "relay", "attempt": 2})

	got := r.since(0, logrus.WarnLevel)
	if len(got) != 1 || got[0].Component != "relay" || got[0].Fields["attempt"] != 2 {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, ok := got[0].Fields["component"]; ok {
		t.Fatalf("component should not be repeated in fields")
	}

	r.close()
	fire(t, r, logrus.ErrorLevel, "ignored", nil)
	if n := len(r.since(0, logrus.TraceLevel)); n != 1 {
		t.Fatalf("ring accepted entries after close")
	}
}
