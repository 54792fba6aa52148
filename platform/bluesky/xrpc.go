package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

type requestKind int

const (
	xrpcQuery requestKind = iota
	xrpcProcedure
)

// XRPCError is the error body returned by atproto services, together with
// the HTTP status and any rate limit headers.
type XRPCError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
	RetryAfter time.Time
}

func (e *XRPCError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("XRPC ERROR %d", e.StatusCode)
	}
	return fmt.Sprintf("XRPC ERROR %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *XRPCError) expiredToken() bool {
	return e.Code == "ExpiredToken" || (e.StatusCode == http.StatusUnauthorized && e.Code == "")
}

type session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

// xrpcClient is a minimal atproto XRPC client with app password sessions.
type xrpcClient struct {
	host    string
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time

	mu   sync.Mutex
	auth *session
}

func (c *xrpcClient) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

func (c *xrpcClient) login(ctx context.Context, identifier, password string) error {
	var out session
	body := map[string]string{"identifier": identifier, "password": password}
	if err := c.send(ctx, xrpcProcedure, "com.atproto.server.createSession", nil, body, &out, ""); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	c.mu.Lock()
	c.auth = &out
	c.mu.Unlock()
	return nil
}

func (c *xrpcClient) refresh(ctx context.Context) error {
	cur := c.session()
	if cur == nil {
		return errors.New("no session to refresh")
	}
	var out session
	if err := c.send(ctx, xrpcProcedure, "com.atproto.server.refreshSession", nil, nil, &out, cur.RefreshJwt); err != nil {
		return fmt.Errorf("refreshing session: %w", err)
	}
	sessionRefreshes.Inc()
	c.mu.Lock()
	c.auth = &out
	c.mu.Unlock()
	return nil
}

// tokenExpiry reads the exp claim of an access token. Signatures are not
// checked; the PDS does that.
func tokenExpiry(tok string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(tok, claims)
	// atproto signs with ES256K, which jwt does not know; claims still decode
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

const refreshMargin = 5 * time.Minute

// do issues an authenticated call. A token close to expiry is refreshed
// first, and an ExpiredToken response triggers a single refresh and retry.
func (c *xrpcClient) do(ctx context.Context, kind requestKind, method string, params url.Values, body, out any) error {
	sess := c.session()
	if sess == nil {
		return errNoSession
	}
	if exp, ok := tokenExpiry(sess.AccessJwt); ok && c.now().Add(refreshMargin).After(exp) {
		if err := c.refresh(ctx); err != nil {
			return err
		}
		sess = c.session()
	}

	err := c.send(ctx, kind, method, params, body, out, sess.AccessJwt)
	var xe *XRPCError
	if errors.As(err, &xe) && xe.expiredToken() {
		if rerr := c.refresh(ctx); rerr != nil {
			return rerr
		}
		return c.send(ctx, kind, method, params, body, out, c.session().AccessJwt)
	}
	return err
}

func (c *xrpcClient) send(ctx context.Context, kind requestKind, method string, params url.Values, bodyobj, out any, token string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if bodyobj != nil {
		b, err := json.Marshal(bodyobj)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	m := http.MethodGet
	if kind == xrpcProcedure {
		m = http.MethodPost
	}
	uri := c.host + "/xrpc/" + method
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, m, uri, body)
	if err != nil {
		return err
	}
	if bodyobj != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		xrpcRequests.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	xrpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	xrpcRequests.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		xe := &XRPCError{StatusCode: resp.StatusCode}
		if n, err := strconv.ParseInt(resp.Header.Get("ratelimit-reset"), 10, 64); err == nil {
			xe.RetryAfter = time.Unix(n, 0)
		}
		// body may not be JSON; the status alone is still useful
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(xe)
		return xe
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding xrpc response: %w", err)
		}
	}
	return nil
}
