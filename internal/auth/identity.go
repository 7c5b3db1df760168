// ABOUTME: Caller identity carried through request handling
// ABOUTME: WithIdentity and FromContext attach and read it on a context

package auth

import "context"

// Source tells how an identity was established.
type Source string

const (
	SourceToken   Source = "token"
	SourceSession Source = "session"
)

// Identity is the owner id threads are scoped to.
type Identity struct {
	Subject string
	Source  Source
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity on ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
