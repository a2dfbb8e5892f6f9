package script

import (
	"context"
	"fmt"
)

// Logger receives a script's progress lines.
type Logger interface {
	Log(level, msg string)
}

type loggerKey struct{}

func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// Logf writes to the logger carried by ctx, if any.
func Logf(ctx context.Context, level, format string, args ...any) {
	l, _ := ctx.Value(loggerKey{}).(Logger)
	if l == nil {
		return
	}
	l.Log(level, fmt.Sprintf(format, args...))
}
