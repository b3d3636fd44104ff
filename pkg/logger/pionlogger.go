package logger

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// PionLogger routes the media engine internal logs into zerolog.
// Only the scopes listed in tags are let through, an empty list means all.
type PionLogger struct {
	log  *Logger
	tags map[string]struct{}
}

func NewPionLogger(root *Logger, level Level, tags []string) *PionLogger {
	lvl := root.Level(zerolog.Level(level))
	p := &PionLogger{log: &Logger{logger: &lvl}}
	if len(tags) > 0 {
		p.tags = make(map[string]struct{}, len(tags))
		for _, t := range tags {
			p.tags[t] = struct{}{}
		}
	}
	return p
}

func (p *PionLogger) NewLogger(scope string) logging.LeveledLogger {
	if p.tags != nil {
		if _, ok := p.tags[scope]; !ok {
			nop := zerolog.Nop()
			return scopedLogger{log: &Logger{logger: &nop}}
		}
	}
	return scopedLogger{log: p.log.Extend(p.log.With().Str("scope", scope))}
}

type scopedLogger struct{ log *Logger }

func (s scopedLogger) Trace(msg string) { s.log.WithLevel(zerolog.TraceLevel).Msg(msg) }
func (s scopedLogger) Tracef(format string, args ...any) {
	s.log.WithLevel(zerolog.TraceLevel).Msgf(format, args...)
}
func (s scopedLogger) Debug(msg string)                  { s.log.Debug().Msg(msg) }
func (s scopedLogger) Debugf(format string, args ...any) { s.log.Debug().Msgf(format, args...) }
func (s scopedLogger) Info(msg string)                   { s.log.Info().Msg(msg) }
func (s scopedLogger) Infof(format string, args ...any)  { s.log.Info().Msgf(format, args...) }
func (s scopedLogger) Warn(msg string)                   { s.log.Warn().Msg(msg) }
func (s scopedLogger) Warnf(format string, args ...any)  { s.log.Warn().Msgf(format, args...) }
func (s scopedLogger) Error(msg string)                  { s.log.Error().Msg(msg) }
func (s scopedLogger) Errorf(format string, args ...any) { s.log.Error().Msgf(format, args...) }
