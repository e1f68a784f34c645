package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"go.uber.org/zap"

	hshttp "hsdl/http"
)

// Endpoints of the Auth0 tenant behind headspace.com.
const (
	DefaultLoginPageURL    = "https://www.headspace.com/login"
	DefaultAuthenticateURL = "https://auth.headspace.com/co/authenticate"
	DefaultAuthorizeURL    = "https://auth.headspace.com/authorize"

	realm          = "User-Password-Headspace"
	credentialType = "http://auth0.com/oauth/grant-type/password-realm"
	redirectURI    = "https://www.headspace.com/auth"
	audience       = "https://api.prod.headspace.com"
	siteOrigin     = "https://www.headspace.com"
)

var (
	clientIDPattern    = regexp.MustCompile(`"clientId":"(.+?)",`)
	accessTokenPattern = regexp.MustCompile(`"access_token":"(.+?)"`)
)

var (
	// ErrNoClientID means the login page no longer embeds the Auth0 client id.
	ErrNoClientID = errors.New("login page has no client id")

	// ErrNoLoginTicket means the credentials were accepted but no ticket came back.
	ErrNoLoginTicket = errors.New("authenticate response has no login ticket")

	// ErrNoAccessToken means the authorize step did not hand out a token.
	ErrNoAccessToken = errors.New("authorize response has no access token")
)

// Doer sends one HTTP request and returns the decoded body.
// *http.Client from hsdl/http implements it.
type Doer interface {
	Do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*hshttp.Response, error)
}

// Authenticator exchanges email and password for a bearer token using the
// Auth0 cross-origin login flow.
type Authenticator struct {
	LoginPageURL    string
	AuthenticateURL string
	AuthorizeURL    string

	doer Doer
	log  *zap.Logger
}

// NewAuthenticator creates an Authenticator against the production endpoints.
// The authorize step relies on cookies set during authentication, so doer
// must keep cookies between requests (see hshttp.NewSession).
func NewAuthenticator(doer Doer, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{
		LoginPageURL:    DefaultLoginPageURL,
		AuthenticateURL: DefaultAuthenticateURL,
		AuthorizeURL:    DefaultAuthorizeURL,
		doer:            doer,
		log:             log,
	}
}

type authenticateRequest struct {
	ClientID       string `json:"client_id"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	Realm          string `json:"realm"`
	CredentialType string `json:"credential_type"`
}

type authenticateResponse struct {
	LoginTicket string `json:"login_ticket"`
}

// Login returns a "bearer <jwt>" token for the given credentials. Wrong
// credentials surface as *hshttp.AuthError.
func (a *Authenticator) Login(ctx context.Context, email, password string) (string, error) {
	clientID, err := a.clientID(ctx)
	if err != nil {
		return "", err
	}
	a.log.Debug("found auth client id")

	ticket, err := a.loginTicket(ctx, clientID, email, password)
	if err != nil {
		return "", err
	}
	a.log.Debug("obtained login ticket")

	token, err := a.accessToken(ctx, clientID, ticket)
	if err != nil {
		return "", err
	}
	a.log.Info("logged in", zap.String("email", email))

	return NormalizeToken(token)
}

func (a *Authenticator) clientID(ctx context.Context) (string, error) {
	resp, err := a.doer.Do(ctx, http.MethodGet, a.LoginPageURL, nil, map[string]string{"Accept": "text/html"})
	if err != nil {
		return "", fmt.Errorf("fetch login page: %w", err)
	}
	m := clientIDPattern.FindSubmatch(resp.Body)
	if m == nil {
		return "", ErrNoClientID
	}
	return string(m[1]), nil
}

func (a *Authenticator) loginTicket(ctx context.Context, clientID, email, password string) (string, error) {
	body, err := json.Marshal(authenticateRequest{
		ClientID:       clientID,
		Username:       email,
		Password:       password,
		Realm:          realm,
		CredentialType: credentialType,
	})
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}

	resp, err := a.doer.Do(ctx, http.MethodPost, a.AuthenticateURL, body, map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
		"Origin":       siteOrigin,
		"Referer":      siteOrigin + "/",
	})
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	var out authenticateResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", &hshttp.TransportError{URL: a.AuthenticateURL, Err: err}
	}
	if out.LoginTicket == "" {
		return "", ErrNoLoginTicket
	}
	return out.LoginTicket, nil
}

func (a *Authenticator) accessToken(ctx context.Context, clientID, ticket string) (string, error) {
	params := url.Values{
		"client_id":     {clientID},
		"response_type": {"token"},
		"response_mode": {"web_message"},
		"redirect_uri":  {redirectURI},
		"scope":         {"openid email"},
		"audience":      {audience},
		"realm":         {realm},
		"login_ticket":  {ticket},
		"prompt":        {"none"},
	}

	resp, err := a.doer.Do(ctx, http.MethodGet, a.AuthorizeURL+"?"+params.Encode(), nil, map[string]string{
		"Accept":  "text/html",
		"Referer": siteOrigin + "/",
	})
	if err != nil {
		return "", fmt.Errorf("authorize: %w", err)
	}
	m := accessTokenPattern.FindSubmatch(resp.Body)
	if m == nil {
		return "", ErrNoAccessToken
	}
	return string(m[1]), nil
}
