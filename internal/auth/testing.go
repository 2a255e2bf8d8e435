package auth

import "context"

// SetIdentityForTest injects a caller identity into the context for testing purposes.
func SetIdentityForTest(ctx context.Context, userID int64, roles ...string) context.Context {
	return WithIdentity(ctx, userID, roles...)
}
