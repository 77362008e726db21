package repository

import "context"

// TokenCache maps access tokens to an opaque signer reference. A miss is not an error.
type TokenCache interface {
	Get(ctx context.Context, token string) (ref string, found bool, err error)
	Set(ctx context.Context, token, ref string) error
	Delete(ctx context.Context, tokens ...string) error
}
