package editor

import "go.uber.org/zap"

// Level is the severity of a user notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warning"
	LevelError Level = "error"
)

// Notifier shows a message to the user. It must not block.
type Notifier interface {
	Notify(level Level, msg string)
}

// NotifyFunc adapts a function to Notifier.
type NotifyFunc func(level Level, msg string)

func (f NotifyFunc) Notify(level Level, msg string) { f(level, msg) }

// logNotifier is used when the host supplies none.
type logNotifier struct{ log *zap.Logger }

func (n logNotifier) Notify(level Level, msg string) {
	switch level {
	case LevelError:
		n.log.Error(msg)
	case LevelWarn:
		n.log.Warn(msg)
	default:
		n.log.Info(msg)
	}
}
