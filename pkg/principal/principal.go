// Package principal scopes a monitor owner's identity onto a context for the
// duration of a privileged external call. Side effects performed on behalf of
// a monitor run as its stored owner, never as the invoking user.
package principal

import "context"

type contextKey int

const principalKey contextKey = 0

// Principal is the identity captured on a monitor at create/update time.
type Principal struct {
	Name         string
	BackendRoles []string
	Roles        []string
}

// WithPrincipal returns a context carrying the principal. Release is
// automatic: the identity lives exactly as long as the derived context,
// including on failure paths.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the principal on the context, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
