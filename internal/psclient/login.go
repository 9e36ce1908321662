package psclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// ErrAuth marks a failed credential exchange with the login endpoint.
var ErrAuth = errors.New("authentication failed")

const (
	// DefaultLoginURL answers registered-account logins.
	DefaultLoginURL = "https://play.pokemonshowdown.com/api/login"
	// DefaultGuestLoginURL hands out assertions for unregistered names.
	DefaultGuestLoginURL = "https://play.pokemonshowdown.com/action.php?"
)

// Authenticator exchanges the challenge pair received on connect for a
// signed assertion and the resolved user id.
type Authenticator interface {
	Assertion(ctx context.Context, clientID, challstr string) (assertion, userID string, err error)
}

// LoginClient talks to the Showdown login endpoint over HTTP. A missing
// password selects the guest flow.
type LoginClient struct {
	http     *fasthttp.Client
	loginURL string
	guestURL string
	username string
	password string

	defaultTimeout time.Duration
}

type LoginOption func(*LoginClient)

func WithLoginURL(u string) LoginOption {
	return func(c *LoginClient) { c.loginURL = u }
}

func WithGuestLoginURL(u string) LoginOption {
	return func(c *LoginClient) { c.guestURL = u }
}

func WithHTTPTimeout(d time.Duration) LoginOption {
	return func(c *LoginClient) { c.defaultTimeout = d }
}

func NewLoginClient(username, password string, opts ...LoginOption) *LoginClient {
	c := &LoginClient{
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
		loginURL:       DefaultLoginURL,
		guestURL:       DefaultGuestLoginURL,
		username:       username,
		password:       password,
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LoginClient) Assertion(ctx context.Context, clientID, challstr string) (string, string, error) {
	pair := clientID + "|" + challstr
	if c.password == "" {
		body, err := c.postForm(ctx, c.guestURL, map[string]string{
			"act":      "getassertion",
			"userid":   c.username,
			"challstr": pair,
		})
		if err != nil {
			return "", "", err
		}
		return string(body), c.username, nil
	}

	body, err := c.postForm(ctx, c.loginURL, map[string]string{
		"name":     c.username,
		"pass":     c.password,
		"challstr": pair,
	})
	if err != nil {
		return "", "", err
	}
	return parseLoginBody(body, c.username)
}

// parseLoginBody decodes the `]`-prefixed JSON the login API answers with.
func parseLoginBody(body []byte, fallbackUser string) (string, string, error) {
	if len(body) < 2 {
		return "", "", fmt.Errorf("%w: short login response", ErrAuth)
	}
	var payload struct {
		ActionSuccess *bool  `json:"actionsuccess"`
		Assertion     string `json:"assertion"`
		CurUser       struct {
			UserID string `json:"userid"`
		} `json:"curuser"`
	}
	if err := json.Unmarshal(body[1:], &payload); err != nil {
		return "", "", fmt.Errorf("%w: decode login response: %v", ErrAuth, err)
	}
	if payload.ActionSuccess == nil {
		return "", "", fmt.Errorf("%w: %s", ErrAuth, truncate(string(body), 256))
	}
	userID := payload.CurUser.UserID
	if userID == "" {
		userID = fallbackUser
	}
	return payload.Assertion, userID, nil
}

func (c *LoginClient) postForm(ctx context.Context, url string, fields map[string]string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(url)
	req.Header.SetContentType("application/x-www-form-urlencoded")

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	for k, v := range fields {
		args.Set(k, v)
	}
	req.SetBody(args.QueryString())

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrAuth, resp.StatusCode(), truncate(string(resp.Body()), 256))
	}
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

func (c *LoginClient) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Login runs the connect-time handshake: wait for the challenge, exchange
// it for an assertion, then rename the connection to the configured user.
// The settle pause lets the rename land before rooms are joined.
func Login(ctx context.Context, t Transport, auth Authenticator, username string, settle time.Duration) (string, error) {
	clientID, challstr, err := WaitForChallstr(ctx, t)
	if err != nil {
		return "", err
	}
	assertion, userID, err := auth.Assertion(ctx, clientID, challstr)
	if err != nil {
		return "", err
	}
	if err := t.Send(ctx, "", "/trn "+username+",0,"+assertion); err != nil {
		return "", err
	}
	if settle > 0 {
		if err := sleepWithContext(ctx, settle); err != nil {
			return "", err
		}
	}
	return userID, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
