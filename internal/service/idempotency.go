package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Idempotency carries a caller-supplied key through a mutating operation.
// When the key was already used with the same request hash, the stored
// result is returned and Replayed is set.
type Idempotency struct {
	Key         string
	RequestHash string
	// Status is saved with the result. On a replay it is overwritten with
	// the status saved by the first request.
	Status   int
	Replayed bool
}

type idempotencyKey struct{}

// WithIdempotency attaches idem to ctx. Only the operation the context is
// passed to uses it.
func WithIdempotency(ctx context.Context, idem *Idempotency) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, idem)
}

func idempotencyFrom(ctx context.Context) *Idempotency {
	idem, _ := ctx.Value(idempotencyKey{}).(*Idempotency)
	if idem == nil || idem.Key == "" {
		return nil
	}
	return idem
}

// HashRequest fingerprints a request body.
func HashRequest(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}
