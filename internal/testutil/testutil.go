package testutil

import (
	"context"
	"database/sql"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"

	"droneDispatch/internal/auth"
	"droneDispatch/internal/db"
)

// OpenInMemoryDB opens an in-memory SQLite database and applies migrations.
// Shared cache keeps multiple connections on the same database. The DB is
// closed via t.Cleanup.
func OpenInMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	d, err := db.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// Shared-cache in-memory SQLite cannot serve concurrent write
	// transactions; a single pooled connection serializes them.
	d.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// GenerateJWTHS256 returns a signed JWT string with the minimal claims the
// auth boundary expects.
func GenerateJWTHS256(t *testing.T, secret, name, kind string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"name": name,
		"kind": kind,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// CtxAs returns a context carrying a principal of the given kind,
// bypassing token parsing.
func CtxAs(ctx context.Context, name, kind string) context.Context {
	return auth.WithPrincipal(ctx, &auth.Principal{Name: name, Kind: kind})
}
