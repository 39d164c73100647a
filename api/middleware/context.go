package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxCaller    contextKey = "caller"
	ctxAccessLog contextKey = "access_log"
)

// Caller is the authenticated principal attached by Auth.
type Caller struct {
	UserID string
	Email  string
	Admin  bool
}

// WithCaller attaches c to ctx and reports it to the access log, if one is open.
func WithCaller(ctx context.Context, c Caller) context.Context {
	if entry, ok := ctx.Value(ctxAccessLog).(*accessEntry); ok {
		entry.userID = c.UserID
	}
	return context.WithValue(ctx, ctxCaller, c)
}

// CallerFromContext returns the caller and whether Auth has run.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxCaller).(Caller)
	return c, ok
}

func UserIDFromContext(ctx context.Context) string {
	c, _ := CallerFromContext(ctx)
	return c.UserID
}

// CallerID parses the authenticated user id; uuid.Nil when absent.
func CallerID(ctx context.Context) uuid.UUID {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func EmailFromContext(ctx context.Context) string {
	c, _ := CallerFromContext(ctx)
	return c.Email
}

func IsAdminFromContext(ctx context.Context) bool {
	c, _ := CallerFromContext(ctx)
	return c.Admin
}

// WithUserID sets the caller's user id, keeping any other caller fields.
func WithUserID(ctx context.Context, userID string) context.Context {
	c, _ := CallerFromContext(ctx)
	c.UserID = userID
	return WithCaller(ctx, c)
}

// WithAdmin sets the caller's operator flag, keeping any other caller fields.
func WithAdmin(ctx context.Context, admin bool) context.Context {
	c, _ := CallerFromContext(ctx)
	c.Admin = admin
	return WithCaller(ctx, c)
}
