package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields mirrors logrus.Fields so callers need not import logrus.
type Fields map[string]interface{}

// Log is the process logger. Entries created from it count warnings and
// errors per component for the periodic report.
type Log struct {
	*logrus.Logger
}

type Entry struct {
	*logrus.Entry
}

var globalLogger = Logger()

// Logger builds a JSON logger at LOG_LEVEL (info when unset or invalid).
func Logger() *Log {
	l := logrus.New()
	l.SetReportCaller(true)
	l.SetFormatter(jsonFormatter())
	l.AddHook(&callerHook{})

	if lvl, err := parseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &Log{Logger: l}
}

func GetLogger() *Log {
	return globalLogger
}

// parseLevel accepts logrus level names plus "report", which logs at info
// and turns on the periodic counters report.
func parseLevel(level string) (logrus.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "":
		return logrus.InfoLevel, nil
	case "report":
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(level)
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

// WithEnv attaches the current value of each named environment variable.
func (l *Log) WithEnv(envs ...string) *Entry {
	return (&Entry{Entry: logrus.NewEntry(l.Logger)}).WithEnv(envs...)
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

func (e *Entry) WithEnv(envs ...string) *Entry {
	fields := make(logrus.Fields, len(envs))
	for _, env := range envs {
		fields[env] = os.Getenv(env)
	}
	return &Entry{Entry: e.Entry.WithFields(fields)}
}

func (e *Entry) component() string {
	c, _ := e.Entry.Data["component"].(string)
	return c
}

func (e *Entry) Warn(args ...interface{}) {
	if c := e.component(); c != "" {
		recordWarn(c)
	}
	e.Entry.Warn(args...)
}

func (e *Entry) Error(args ...interface{}) {
	if c := e.component(); c != "" {
		recordError(c)
	}
	e.Entry.Error(args...)
}

// Metric logs one measurement at debug and publishes it to CloudWatch when
// the client is initialised. String fields become metric dimensions next
// to the entry's component.
func (e *Entry) Metric(name string, value float64, unit cwtypes.StandardUnit, fields Fields) {
	e.WithFields(fields).WithFields(Fields{
		"metric": name,
		"value":  value,
		"unit":   string(unit),
	}).Debug("metric")

	var dims []cwtypes.Dimension
	if c := e.component(); c != "" {
		dims = append(dims, cwtypes.Dimension{Name: aws.String("Component"), Value: aws.String(c)})
	}
	for k, v := range fields {
		if s, ok := v.(string); ok {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}
	publishMetrics(context.Background(), []cwtypes.MetricDatum{{
		MetricName: aws.String(name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
	}})
}

// Configure applies the logging section of the config. LOG_LEVEL wins over
// the configured level.
func (l *Log) Configure(level, format, output string, maxAge int) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level '%s'", level)
	}
	l.SetLevel(lvl)
	l.SetReportCaller(true)

	switch format {
	case "json", "":
		l.SetFormatter(jsonFormatter())
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return fmt.Errorf("invalid log format '%s'", format)
	}

	switch output {
	case "stdout", "":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		// anything else is a file path; rotate when a retention is set
		if maxAge > 0 {
			l.SetOutput(&lumberjack.Logger{Filename: output, MaxAge: maxAge, MaxSize: 100, Compress: true})
			return nil
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file '%s': %w", output, err)
		}
		l.SetOutput(file)
	}
	return nil
}

// LogPerformanceEntry records how long an operation took.
func LogPerformanceEntry(entry *Entry, component string, operation string, duration time.Duration, fields Fields) {
	if fields == nil {
		fields = make(Fields)
	}
	fields["duration_ms"] = float64(duration.Nanoseconds()) / 1e6
	fields["operation"] = operation

	entry.WithFields(fields).WithComponent(component).Debug("performance metric")
}
