// Package session carries the signed-in user through a request context.
package session

import (
	"context"
	"errors"
	"strings"
)

// ErrNoSession is returned when a context carries no user.
var ErrNoSession = errors.New("no user session")

type userKey struct{}

// WithUserID returns a copy of ctx carrying the given user id.
// A blank id leaves ctx without a session.
func WithUserID(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the user id carried by ctx.
func UserID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(userKey{}).(string)
	if !ok || id == "" {
		return "", ErrNoSession
	}
	return id, nil
}
