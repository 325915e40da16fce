package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// frames belonging to these packages are never reported as the caller.
var wrapperPackages = []string{"sirupsen/logrus", "fundingdesk/logger"}

// callerHook points entry.Caller at the first frame outside logrus and
// this package, since every call goes through the Entry wrappers.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isWrapperFrame(fn string) bool {
	for _, pkg := range wrapperPackages {
		if strings.Contains(fn, pkg) {
			return true
		}
	}
	return false
}
