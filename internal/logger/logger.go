package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New инициализирует логгер. Вне продакшена пишет текстом и включает уровень debug.
func New(output io.Writer, production bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(output)
	l.SetFormatter(new(logrus.JSONFormatter))
	l.SetLevel(logrus.InfoLevel)

	if !production {
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(new(logrus.TextFormatter))
	}

	return l
}

// Component возвращает запись с полем компонента, через нее логируют пакеты приложения.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	return l.WithField("component", name)
}
