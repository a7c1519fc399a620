// Package session provides server-side sessions keyed by an opaque cookie id,
// and the MFA trust records kept inside them.
package session

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned by stores when an id has no data.
var ErrSessionNotFound = errors.New("session not found")

// Store persists session values as flat string maps keyed by session id.
// Writes refresh the session's idle expiry.
type Store interface {
	Get(ctx context.Context, id, key string) (string, bool, error)
	Set(ctx context.Context, id, key, value string) error
	Delete(ctx context.Context, id string, keys ...string) error
	Keys(ctx context.Context, id string) ([]string, error)
	Destroy(ctx context.Context, id string) error
}
