package log

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	mutex  sync.RWMutex
	logger = newLogger(os.Stderr)
)

func init() {
	if s := os.Getenv("VIRGA_LOG_LEVEL"); s != "" {
		_ = SetLevel(s)
	}
}

func newLogger(w io.Writer) *zap.SugaredLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func current() *zap.SugaredLogger {
	mutex.RLock()
	defer mutex.RUnlock()
	return logger
}

// SetLevel changes the level of the process logger. Accepts debug, info, warn, error.
func SetLevel(s string) error {
	return level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s))))
}

// SetOutput redirects the process logger.
func SetOutput(w io.Writer) {
	mutex.Lock()
	defer mutex.Unlock()
	_ = logger.Sync()
	logger = newLogger(w)
}

func Debugf(format string, args ...any) {
	current().Debugf(format, args...)
}

func Infof(format string, args ...any) {
	current().Infof(format, args...)
}

func Warnf(format string, args ...any) {
	current().Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	current().Errorf(format, args...)
}

func Sync() error {
	return current().Sync()
}

type lineWriter struct{}

func (lineWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte{'\n'}) {
		if len(line) > 0 {
			current().Debug(string(line))
		}
	}
	return len(p), nil
}

// Writer returns an io.Writer that logs every line at debug level,
// for libraries that only accept an output stream.
func Writer() io.Writer {
	return lineWriter{}
}
