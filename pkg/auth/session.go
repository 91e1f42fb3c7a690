// Package auth implements backend.Sessions against the backend's token
// endpoints and keeps the process-wide view of the current session.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ndanh/guildchat/pkg/backend"
)

var ErrNotLoggedIn = errors.New("not logged in")

// Claims is the subset of the access-token claims this client reads. The
// token is issued and verified by the backend; the client only decodes it
// to learn the user id and expiry.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Client struct {
	baseURL string
	apikey  string
	http    *http.Client

	mu           sync.RWMutex
	session      *backend.Session
	refreshToken string
	listeners    map[int]func(*backend.Session)
	nextListener int
}

func New(baseURL, apikey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apikey:    apikey,
		http:      &http.Client{Timeout: 15 * time.Second},
		listeners: make(map[int]func(*backend.Session)),
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *Client) token(ctx context.Context, grant string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u := c.baseURL + "/auth/v1/token?grant_type=" + grant
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apikey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("auth: %s grant failed: status %d: %s", grant, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return err
	}
	return c.adopt(tr)
}

func (c *Client) adopt(tr tokenResponse) error {
	session, err := SessionFromToken(tr.AccessToken)
	if err != nil {
		return err
	}
	if session.ExpiresAt.IsZero() && tr.ExpiresIn > 0 {
		session.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	c.mu.Lock()
	c.session = session
	if tr.RefreshToken != "" {
		c.refreshToken = tr.RefreshToken
	}
	c.mu.Unlock()

	c.notify(session)
	return nil
}

// Login exchanges email/password credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.token(ctx, "password", map[string]string{"email": email, "password": password})
}

// Refresh rotates the session using the stored refresh token.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.RLock()
	rt := c.refreshToken
	c.mu.RUnlock()
	if rt == "" {
		return ErrNotLoggedIn
	}
	return c.token(ctx, "refresh_token", map[string]string{"refresh_token": rt})
}

// SetToken adopts a pre-issued access token, for runs where login happened
// elsewhere.
func (c *Client) SetToken(token string) error {
	return c.adopt(tokenResponse{AccessToken: token})
}

// Logout drops the session and notifies listeners with nil.
func (c *Client) Logout() {
	c.mu.Lock()
	c.session = nil
	c.refreshToken = ""
	c.mu.Unlock()
	c.notify(nil)
}

// Session returns the current session, or nil when logged out.
func (c *Client) Session(ctx context.Context) (*backend.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, nil
	}
	s := *c.session
	return &s, nil
}

// AccessToken implements rest.TokenProvider.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return "", nil
	}
	return c.session.AccessToken, nil
}

func (c *Client) OnAuthStateChange(fn func(*backend.Session)) (remove func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) notify(s *backend.Session) {
	c.mu.RLock()
	fns := make([]func(*backend.Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		var copySession *backend.Session
		if s != nil {
			cp := *s
			copySession = &cp
		}
		fn(copySession)
	}
}

// SessionFromToken decodes an access token's claims without verifying the
// signature; verification is the backend's job, the client only needs the
// subject and expiry.
func SessionFromToken(token string) (*backend.Session, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("auth: decode token: %w", err)
	}

	s := &backend.Session{
		AccessToken: token,
		UserID:      claims.Subject,
		Email:       claims.Email,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

var _ backend.Sessions = (*Client)(nil)
