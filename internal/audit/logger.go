package audit

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures the rotating JSON audit file.
type FileConfig struct {
	// Path is the audit log file.
	Path string

	// MaxSize is the maximum size in megabytes before rotation.
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int

	// Compress determines if rotated files should be compressed.
	Compress bool
}

// DefaultFileConfig returns default audit file configuration.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Path:       "logs/audit.log",
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// FileSink writes audit entries as JSON lines to a rotating file.
type FileSink struct {
	mu      sync.Mutex
	logger  *zap.Logger
	rotator *lumberjack.Logger
}

// NewFileSink creates a sink writing to config.Path.
func NewFileSink(config *FileConfig) (*FileSink, error) {
	if config == nil {
		config = DefaultFileConfig()
	}
	if config.Path == "" {
		return nil, fmt.Errorf("audit file path is required")
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "logged_at",
		LevelKey:       "",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// Audit records are always written at INFO.
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	return &FileSink{
		logger:  zap.New(core),
		rotator: rotator,
	}, nil
}

// Write implements Sink.
func (s *FileSink) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("audit",
		zap.String("id", e.ID),
		zap.Time("timestamp", e.Timestamp),
		zap.String("action", e.Action),
		zap.String("target", e.Target),
		zap.String("result", string(e.Result)),
		zap.Any("details", e.Details),
	)
	return nil
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.logger.Sync()
	return s.rotator.Close()
}
