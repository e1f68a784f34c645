package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	hshttp "hsdl/http"
)

func newLoginServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>window.__CONFIG__={"auth":{"clientId":"client-xyz","domain":"auth"}}</script>`))
	})
	mux.HandleFunc("/co/authenticate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req authenticateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ClientID != "client-xyz" || req.Username != "me@example.com" || req.Realm != realm {
			t.Errorf("request = %+v", req)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"access_denied","error_description":"Wrong email or password."}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "did", Value: "s1", Path: "/"})
		w.Write([]byte(`{"login_ticket":"ticket-1"}`))
	})
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("login_ticket") != "ticket-1" || q.Get("client_id") != "client-xyz" || q.Get("prompt") != "none" {
			t.Errorf("authorize query = %v", q)
		}
		if c, err := r.Cookie("did"); err != nil || c.Value != "s1" {
			w.Write([]byte(`<html>login_required</html>`))
			return
		}
		w.Write([]byte(`<script>var authorizationResponse = {type: "authorization_response",
			response: {"access_token":"eyJ.payload.sig","scope":"openid email","expires_in":86400}};</script>`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestAuthenticator(t *testing.T, server *httptest.Server) *Authenticator {
	t.Helper()
	cfg := hshttp.DefaultConfig()
	cfg.Retry.MaxRetries = 0
	cfg.RateLimiter = hshttp.RateLimiterConfig{}
	client, err := hshttp.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	a := NewAuthenticator(client, nil)
	a.LoginPageURL = server.URL + "/login"
	a.AuthenticateURL = server.URL + "/co/authenticate"
	a.AuthorizeURL = server.URL + "/authorize"
	return a
}

func TestLogin(t *testing.T) {
	server := newLoginServer(t, http.StatusOK)
	a := newTestAuthenticator(t, server)

	token, err := a.Login(context.Background(), "me@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token != "bearer eyJ.payload.sig" {
		t.Errorf("Login() = %q", token)
	}
}

func TestLoginWithoutCookiesFails(t *testing.T) {
	server := newLoginServer(t, http.StatusOK)
	cfg := hshttp.DefaultConfig()
	cfg.Retry.MaxRetries = 0
	cfg.RateLimiter = hshttp.RateLimiterConfig{}
	client := hshttp.New(cfg)
	defer client.Close()

	a := NewAuthenticator(client, nil)
	a.LoginPageURL = server.URL + "/login"
	a.AuthenticateURL = server.URL + "/co/authenticate"
	a.AuthorizeURL = server.URL + "/authorize"

	if _, err := a.Login(context.Background(), "me@example.com", "hunter2"); !errors.Is(err, ErrNoAccessToken) {
		t.Errorf("error = %v, want ErrNoAccessToken", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	server := newLoginServer(t, http.StatusForbidden)
	a := newTestAuthenticator(t, server)

	_, err := a.Login(context.Background(), "me@example.com", "wrong")
	var authErr *hshttp.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
}

func TestLoginNoClientID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	a := newTestAuthenticator(t, server)
	a.LoginPageURL = server.URL

	if _, err := a.Login(context.Background(), "me@example.com", "x"); !errors.Is(err, ErrNoClientID) {
		t.Errorf("error = %v, want ErrNoClientID", err)
	}
}
