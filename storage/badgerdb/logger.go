package badgerdb

import (
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

type logger struct {
	log *zerolog.Logger
}

var _ badger.Logger = (*logger)(nil)

func (l *logger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l *logger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l *logger) Infof(format string, args ...any) {
	l.log.Info().Msgf(strings.TrimSpace(format), args...)
}

func (l *logger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}
