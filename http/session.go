package http

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"golang.org/x/net/publicsuffix"
)

// NewSessionJar creates an in-memory cookie jar that scopes cookies by
// registrable domain, so auth.example.com and www.example.com share
// cookies set for example.com.
func NewSessionJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

// NewSession creates a client that carries cookies from one request to the
// next, for multi-step browser flows such as login. cfg is copied; a nil
// cfg uses DefaultConfig.
func NewSession(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	jar, err := NewSessionJar()
	if err != nil {
		return nil, err
	}

	sessionCfg := *cfg
	sessionCfg.Jar = jar
	return New(&sessionCfg), nil
}
