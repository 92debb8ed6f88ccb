// Package googleauth builds the Google OAuth2 client shared by the Drive
// staging store and the YouTube publisher. The refresh token is seeded from
// configuration once and then kept, with every refreshed access token, in the
// token store so restarts reuse it.
package googleauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/youtube/v3"

	"github.com/onnwee/shorts-tender/db"
	"github.com/onnwee/shorts-tender/oauth"
)

// Provider is the oauth_tokens key for the Google credential.
const Provider = "google"

// DefaultScopes cover the staging folders and uploads.
var DefaultScopes = []string{drive.DriveScope, youtube.YoutubeUploadScope}

// ErrNoToken means neither the store nor configuration holds a refresh token.
var ErrNoToken = errors.New("no google refresh token: set GOOGLE_REFRESH_TOKEN")

// NewConfig returns the OAuth2 client configuration. scopes may be comma or
// space separated; empty uses DefaultScopes.
func NewConfig(clientID, clientSecret, redirectURL, scopes string) *oauth2.Config {
	sc := DefaultScopes
	if f := strings.Fields(strings.ReplaceAll(scopes, ",", " ")); len(f) > 0 {
		sc = f
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       sc,
	}
}

// Source is an oauth2.TokenSource that persists every refreshed token.
type Source struct {
	mu    sync.Mutex
	ctx   context.Context
	conf  *oauth2.Config
	store oauth.Store // nil keeps the token in memory only
	tok   *oauth2.Token
}

// NewSource loads the stored token, falling back to seedRefresh. A seed that
// differs from the stored refresh token wins: the operator rotated it.
func NewSource(ctx context.Context, conf *oauth2.Config, store oauth.Store, seedRefresh string) (*Source, error) {
	s := &Source{ctx: ctx, conf: conf, store: store}
	if store != nil {
		stored, ok, err := store.LoadToken(ctx, Provider)
		if err != nil {
			return nil, fmt.Errorf("load google token: %w", err)
		}
		if ok && stored.RefreshToken != "" && (seedRefresh == "" || seedRefresh == stored.RefreshToken) {
			s.tok = &oauth2.Token{AccessToken: stored.AccessToken, RefreshToken: stored.RefreshToken, Expiry: stored.Expiry, TokenType: "Bearer"}
		}
	}
	if s.tok == nil {
		if seedRefresh == "" {
			return nil, ErrNoToken
		}
		s.tok = &oauth2.Token{RefreshToken: seedRefresh}
	}
	return s, nil
}

// Token returns a valid access token, refreshing and persisting it when needed.
func (s *Source) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok.Valid() {
		t := *s.tok
		return &t, nil
	}
	next, err := s.conf.TokenSource(s.ctx, &oauth2.Token{RefreshToken: s.tok.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh google token: %w", err)
	}
	s.adopt(next)
	t := *s.tok
	return &t, nil
}

// Refresh forces a refresh with refreshToken. It has the oauth.RefreshFunc
// shape so the background refresher can drive it.
func (s *Source) Refresh(ctx context.Context, refreshToken string) (db.Token, error) {
	next, err := s.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return db.Token{}, fmt.Errorf("refresh google token: %w", err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = refreshToken
	}
	s.mu.Lock()
	s.tok = next
	s.mu.Unlock()
	return toDB(next), nil
}

// adopt stores next as the current token. Callers hold s.mu.
func (s *Source) adopt(next *oauth2.Token) {
	if next.RefreshToken == "" {
		next.RefreshToken = s.tok.RefreshToken
	}
	s.tok = next
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 10*time.Second)
	defer cancel()
	if err := s.store.SaveToken(ctx, Provider, toDB(next)); err != nil {
		slog.Warn("persist google token failed", slog.Any("err", err), slog.String("component", "googleauth"))
	}
}

// Seed persists the initial token so the refresher finds a row to watch.
func (s *Source) Seed(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	tok := toDB(s.tok)
	s.mu.Unlock()
	return s.store.SaveToken(ctx, Provider, tok)
}

// Client returns an HTTP client authorized with this source.
func (s *Source) Client(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, s)
}

func toDB(t *oauth2.Token) db.Token {
	out := db.Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, Expiry: t.Expiry}
	if sc, ok := t.Extra("scope").(string); ok {
		out.Scope = sc
	}
	return out
}
