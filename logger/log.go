package logger

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	log   atomic.Pointer[zap.Logger]
)

func init() {
	log.Store(newConsole(os.Stdout))
}

func newConsole(out zapcore.WriteSyncer) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalColorLevelEncoder, // 彩色等级
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(out),
		level,
	)

	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// SetLevel 按配置调整日志等级（debug/info/warn/error）
func SetLevel(s string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

// Replace swaps the process logger, tests use zap.NewNop or an observer core.
func Replace(l *zap.Logger) {
	if l != nil {
		log.Store(l)
	}
}

// L returns the underlying zap logger.
func L() *zap.Logger { return log.Load() }

// With returns a child logger carrying fields, used per session / per listener.
func With(fields ...zap.Field) *zap.Logger {
	return log.Load().WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

func Sync() { _ = log.Load().Sync() }

// 快捷方法
func Info(msg string, fields ...zap.Field) { log.Load().Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	log.Load().Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { log.Load().Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	log.Load().Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { log.Load().Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	log.Load().Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { log.Load().Debug(msg, fields...) }
