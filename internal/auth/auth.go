// Package auth consumes the output contract of the external authentication
// service: a signed bearer token naming the caller and its role. Token issuance,
// rotation, and replay detection happen elsewhere; this package only validates
// tokens and carries the resulting Principal through context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Actor roles as minted by the authentication service.
const (
	KindAdmin   = "admin"
	KindEndUser = "enduser"
	KindDrone   = "drone"
)

var (
	// ErrUnauthenticated means no valid principal accompanied the call.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPermissionDenied means the principal's role does not permit the call.
	ErrPermissionDenied = errors.New("permission denied")
)

// Principal represents the authenticated caller.
type Principal struct {
	Name string // username or drone id
	Kind string // "admin" | "enduser" | "drone"
}

type principalKey struct{}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the principal from context (if any).
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// ParseBearer validates an HS256 JWT and returns the embedded Principal.
func ParseBearer(tokenStr, secret string) (*Principal, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: jwt secret is empty", ErrUnauthenticated)
	}

	type claims struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
		jwt.RegisteredClaims
	}

	tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	c, _ := tok.Claims.(*claims)
	if c == nil || c.Name == "" || c.Kind == "" {
		return nil, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}
	return &Principal{Name: c.Name, Kind: strings.ToLower(c.Kind)}, nil
}

// RequirePrincipal ensures a principal is present in context.
func RequirePrincipal(ctx context.Context) (*Principal, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: missing principal", ErrUnauthenticated)
	}
	return p, nil
}

// RequireKind ensures the principal has the given kind (lowercased compare).
func RequireKind(ctx context.Context, kind string) (*Principal, error) {
	p, err := RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if p.Kind != strings.ToLower(kind) {
		return nil, fmt.Errorf("%w: only %s can perform this action", ErrPermissionDenied, strings.ToLower(kind))
	}
	return p, nil
}

// RequireDrone ensures the caller is a drone.
func RequireDrone(ctx context.Context) (*Principal, error) {
	return RequireKind(ctx, KindDrone)
}

// RequireDroneSelf ensures the caller is the named drone itself, or an admin
// acting on its behalf.
func RequireDroneSelf(ctx context.Context, droneID string) (*Principal, error) {
	p, err := RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if p.Kind == KindAdmin {
		return p, nil
	}
	if p.Kind != KindDrone || p.Name != droneID {
		return nil, fmt.Errorf("%w: caller may not act for drone %s", ErrPermissionDenied, droneID)
	}
	return p, nil
}

// RequireAdmin ensures the caller is an admin.
func RequireAdmin(ctx context.Context) (*Principal, error) {
	return RequireKind(ctx, KindAdmin)
}

// RequireEndUserOrAdmin ensures the caller is an end user or admin.
func RequireEndUserOrAdmin(ctx context.Context) (*Principal, error) {
	p, err := RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if p.Kind != KindEndUser && p.Kind != KindAdmin {
		return nil, fmt.Errorf("%w: only enduser or admin can perform this action", ErrPermissionDenied)
	}
	return p, nil
}
