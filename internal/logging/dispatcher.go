package logging

import "github.com/rs/zerolog"

// ZerologAdapter satisfies the dispatcher's key/value logger on top of a
// zerolog.Logger. Fields keep their call order; error values are written
// with zerolog's error marshaller.
type ZerologAdapter struct {
	logger zerolog.Logger
}

func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

func (l *ZerologAdapter) Debug(msg string, kv ...any) { emit(l.logger.Debug(), msg, kv) }
func (l *ZerologAdapter) Info(msg string, kv ...any)  { emit(l.logger.Info(), msg, kv) }
func (l *ZerologAdapter) Warn(msg string, kv ...any)  { emit(l.logger.Warn(), msg, kv) }
func (l *ZerologAdapter) Error(msg string, kv ...any) { emit(l.logger.Error(), msg, kv) }

// emit skips pairs with a non-string key and a trailing unpaired value.
func emit(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case string:
			e = e.Str(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
