package coinforge

import (
	"github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/zap"
)

// ZapLogger adapts a zap logger to the runtime.Logger interface threaded
// through every engine operation.
type ZapLogger struct {
	logger *zap.SugaredLogger
	fields map[string]interface{}
}

var _ runtime.Logger = &ZapLogger{}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{
		logger: logger.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		fields: make(map[string]interface{}),
	}
}

func (l *ZapLogger) Debug(format string, v ...interface{}) {
	l.logger.Debugf(format, v...)
}

func (l *ZapLogger) Info(format string, v ...interface{}) {
	l.logger.Infof(format, v...)
}

func (l *ZapLogger) Warn(format string, v ...interface{}) {
	l.logger.Warnf(format, v...)
}

func (l *ZapLogger) Error(format string, v ...interface{}) {
	l.logger.Errorf(format, v...)
}

func (l *ZapLogger) WithField(key string, v interface{}) runtime.Logger {
	return l.WithFields(map[string]interface{}{key: v})
}

func (l *ZapLogger) WithFields(fields map[string]interface{}) runtime.Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for key, value := range l.fields {
		merged[key] = value
	}
	args := make([]interface{}, 0, len(fields)*2)
	for key, value := range fields {
		merged[key] = value
		args = append(args, key, value)
	}
	return &ZapLogger{
		logger: l.logger.With(args...),
		fields: merged,
	}
}

func (l *ZapLogger) Fields() map[string]interface{} {
	return l.fields
}
