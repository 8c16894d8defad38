package api

import (
	"context"
)

type contextKey int

const (
	contextKeySubject contextKey = iota
)

// SetSubject returns a new context carrying the authenticated token subject.
func SetSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, contextKeySubject, subject)
}

// SubjectFromContext returns the authenticated subject and whether the
// request was authenticated at all.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(contextKeySubject).(string)
	return s, ok
}
