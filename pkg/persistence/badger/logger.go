package badger

import (
	"strings"

	"go.uber.org/zap"
)

// badgerLoggerAdapter routes Badger's internal logging through zap
type badgerLoggerAdapter struct {
	logger *zap.Logger
}

func (a *badgerLoggerAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Sugar().Errorf(strings.TrimSpace(format), args...)
}

func (a *badgerLoggerAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Sugar().Warnf(strings.TrimSpace(format), args...)
}

func (a *badgerLoggerAdapter) Infof(format string, args ...interface{}) {
	a.logger.Sugar().Debugf(strings.TrimSpace(format), args...)
}

func (a *badgerLoggerAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Sugar().Debugf(strings.TrimSpace(format), args...)
}
