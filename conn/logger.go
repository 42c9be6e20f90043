package conn

import "go.uber.org/zap"

// Logger receives diagnostics that are not delivered through events, such as orphan
// responses or panicking notification handlers. *zap.SugaredLogger implements it.
type Logger interface {
	Errorf(template string, args ...any)
	Warnf(template string, args ...any)
	Infof(template string, args ...any)
	Debugf(template string, args ...any)
}

var _ Logger = (*zap.SugaredLogger)(nil)

func nopLogger() Logger {
	return zap.NewNop().Sugar()
}

// withConnID attaches the connection id when the logger supports structured fields.
func withConnID(l Logger, id string) Logger {
	if s, ok := l.(*zap.SugaredLogger); ok {
		return s.With("conn", id)
	}
	return l
}
