package db

import (
	"context"
	"database/sql"
	"encoding/base64"
	"os"
	"testing"
	"time"

	"github.com/onnwee/shorts-tender/crypto"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	dbc, err := Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = dbc.Close() })
	if err := RunMigrations(dbc); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return dbc
}

func TestTokenStoreSealed(t *testing.T) {
	dbc := openTestDB(t)
	ctx := context.Background()
	sealer, err := crypto.NewSealer(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	if err != nil {
		t.Fatal(err)
	}
	store := &TokenStore{DB: dbc, Sealer: sealer}
	provider := "test-" + t.Name()
	t.Cleanup(func() { _, _ = dbc.Exec(`DELETE FROM oauth_tokens WHERE provider=$1`, provider) })

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := store.SaveToken(ctx, provider, Token{AccessToken: "at", RefreshToken: "rt", Expiry: exp, Scope: "s"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	var rawRefresh string
	if err := dbc.QueryRow(`SELECT refresh_token FROM oauth_tokens WHERE provider=$1`, provider).Scan(&rawRefresh); err != nil {
		t.Fatal(err)
	}
	if !crypto.IsSealed(rawRefresh) {
		t.Errorf("refresh token stored in plaintext: %q", rawRefresh)
	}

	// An access-only refresh keeps the stored refresh token and scope.
	if err := store.SaveToken(ctx, provider, Token{AccessToken: "at2", Expiry: exp}); err != nil {
		t.Fatalf("save: %v", err)
	}
	tok, ok, err := store.LoadToken(ctx, provider)
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if tok.AccessToken != "at2" || tok.RefreshToken != "rt" || tok.Scope != "s" || !tok.Expiry.Equal(exp) {
		t.Errorf("loaded %+v", tok)
	}

	plain := &TokenStore{DB: dbc}
	if _, _, err := plain.LoadToken(ctx, provider); err == nil {
		t.Error("reading a sealed row without a key should fail")
	}
}

func TestLoadTokenMissing(t *testing.T) {
	dbc := openTestDB(t)
	_, ok, err := (&TokenStore{DB: dbc}).LoadToken(context.Background(), "does-not-exist")
	if err != nil || ok {
		t.Errorf("missing token: ok=%v err=%v", ok, err)
	}
}

func TestTouchJob(t *testing.T) {
	dbc := openTestDB(t)
	ctx := context.Background()
	TouchJob(ctx, dbc, "job_test_last")
	v, at, err := GetKV(ctx, dbc, "job_test_last")
	if err != nil || v == "" || time.Since(at) > time.Minute {
		t.Errorf("kv = %q %v %v", v, at, err)
	}
}
