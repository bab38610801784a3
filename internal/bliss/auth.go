package bliss

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

const (
	defaultAccountsURL = "https://accounts.iot.findernet.com"
	tokenPath          = "/connect/token"

	oauthClientID = "com.findernet.Bliss2"
)

var oauthScopes = []string{"openid", "offline_access", "profile", "email"}

// Authenticator performs the resource-owner-password grant against the Bliss
// account service and hands out bearer tokens, refreshing transparently via
// the offline_access refresh token. A failed refresh falls back to one fresh
// password login before giving up.
type Authenticator struct {
	conf       *oauth2.Config
	username   string
	password   string
	httpClient *http.Client

	mu     sync.Mutex
	source oauth2.TokenSource
}

func NewAuthenticator(accountsURL, username, password string, httpClient *http.Client) *Authenticator {
	base := strings.TrimSuffix(strings.TrimSpace(accountsURL), "/")
	if base == "" {
		base = defaultAccountsURL
	}
	conf := &oauth2.Config{
		ClientID: oauthClientID,
		Scopes:   oauthScopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  base + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return &Authenticator{conf: conf, username: username, password: password, httpClient: httpClient}
}

// Token returns a valid access token, logging in or refreshing as needed.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.source != nil {
		tok, err := a.source.Token()
		if err == nil {
			return tok.AccessToken, nil
		}
		// Refresh tokens expire server-side; retry with a full login.
		a.source = nil
	}

	tok, err := a.conf.PasswordCredentialsToken(a.tokenContext(ctx), a.username, a.password)
	if err != nil {
		return "", classifyTokenError(err)
	}
	a.source = a.conf.TokenSource(a.tokenContext(context.Background()), tok)
	return tok.AccessToken, nil
}

// Invalidate drops the cached session so the next Token call performs a
// fresh login. Called when the sync endpoint answers 401.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	a.source = nil
	a.mu.Unlock()
}

func (a *Authenticator) tokenContext(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return &AuthError{Err: err}
		}
	}
	return err
}
