package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log level, format and optional file rotation.
type Config struct {
	Level      string
	Format     string // "json" or "text"
	Output     string // "stdout" or a file path
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger wraps logrus so call sites carry structured fields consistently
// and field helpers chain.
type Logger struct {
	e *logrus.Entry
}

func New(cfg Config) *Logger {
	log := logrus.New()

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	switch strings.ToLower(cfg.Level) {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	var writer io.Writer
	if cfg.Output != "" && cfg.Output != "stdout" {
		writer = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
	} else {
		writer = os.Stdout
	}
	log.SetOutput(writer)

	return &Logger{e: logrus.NewEntry(log)}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Logger{e: logrus.NewEntry(log)}
}

func (l *Logger) Debug(msg string) { l.e.Debug(msg) }
func (l *Logger) Info(msg string)  { l.e.Info(msg) }
func (l *Logger) Warn(msg string)  { l.e.Warn(msg) }
func (l *Logger) Error(msg string) { l.e.Error(msg) }
func (l *Logger) Fatal(msg string) { l.e.Fatal(msg) }

func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{e: l.e.WithFields(logrus.Fields(fields))}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{e: l.e.WithError(err)}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{e: l.e.WithField("component", component)}
}

func (l *Logger) WithSymbol(symbol string) *Logger {
	return &Logger{e: l.e.WithField("symbol", symbol)}
}

func (l *Logger) WithOrderID(orderID string) *Logger {
	return &Logger{e: l.e.WithField("order_id", orderID)}
}
