package contracts

import "context"

// Verifier delivers and checks one-time verification keys.
type Verifier interface {
	SendVerification(ctx context.Context, email string) error
	CheckVerification(ctx context.Context, email, code string) (bool, error)
}
