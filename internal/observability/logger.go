package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger: тонкая обёртка над zerolog с вызовами в стиле key/value
type Logger struct {
	zl     zerolog.Logger
	closer io.Closer
}

type Options struct {
	LogPath    string
	LogLevel   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool
}

func NewLogger(logPath, logLevel string) *Logger {
	return NewLoggerWithOptions(Options{
		LogPath:    logPath,
		LogLevel:   logLevel,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Console:    true,
	})
}

func NewLoggerWithOptions(opts Options) *Logger {
	var writers []io.Writer
	var closer io.Closer

	if opts.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Ротация файла логов
	if opts.LogPath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.LogPath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, rotator)
		closer = rotator
	}

	var out io.Writer = io.Discard
	if len(writers) == 1 {
		out = writers[0]
	} else if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(out).
		Level(parseLevel(opts.LogLevel)).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl, closer: closer}
}

// NewNop возвращает логгер, который ничего не пишет (для тестов)
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// NewWriterLogger пишет JSON строки в w
func NewWriterLogger(w io.Writer, logLevel string) *Logger {
	return &Logger{zl: zerolog.New(w).Level(parseLevel(logLevel)).With().Timestamp().Logger()}
}

// With возвращает дочерний логгер с постоянными полями
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields).Logger(), closer: l.closer}
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.zl.Info().Fields(fields).Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.zl.Error().Fields(fields).Msg(msg)
}

// Close закрывает файл логов, если он открыт
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
