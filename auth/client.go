// Package auth implements the two-step challenge/proof sign-in
// protocol (C7) an AgentID runs against its access point before
// opening the heartbeat (C8) and message (C9) channels.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acp-sdk/acp-core/acperr"
	"github.com/acp-sdk/acp-core/crypto/keys"
	"github.com/acp-sdk/acp-core/internal/logger"
	"github.com/acp-sdk/acp-core/internal/metrics"
	achttp "github.com/acp-sdk/acp-core/transport/http"
)

// DefaultMaxRetries is the number of additional attempts made on HTTP
// failure before giving up (spec.md §4.7).
const DefaultMaxRetries = 2

// RetryBackoff is the fixed delay between retry attempts.
const RetryBackoff = 6 * time.Second

// Session holds the state produced by a successful sign-in: the
// server-issued signature, the heartbeat server's address, and the
// heartbeat sign cookie.
type Session struct {
	Signature  string
	ServerIP   string
	Port       int
	SignCookie uint64
	SignedIn   bool
}

// Identity is the minimum agent material the auth client needs: its
// AID, the PEM-encoded private key (possibly needing no further
// decryption by the time it reaches here), and its PEM-encoded
// certificate.
type Identity struct {
	AgentID    string
	PrivateKey string // PEM, decrypted
	CertPEM    string
}

// Client runs the sign-in/sign-out protocol against a single access
// point base URL.
type Client struct {
	baseURL    string
	http       *achttp.Client
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP transport.
func WithHTTPClient(c *achttp.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithMaxRetries overrides the default retry budget.
func WithMaxRetries(n int) Option {
	return func(cl *Client) { cl.maxRetries = n }
}

// WithBackoff overrides the fixed inter-retry delay.
func WithBackoff(d time.Duration) Option {
	return func(cl *Client) { cl.backoff = d }
}

// WithLogger overrides the client's logger.
func WithLogger(l logger.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// New constructs a Client against baseURL (e.g.
// "https://ap.acp-core.example").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		http:       achttp.New(),
		maxRetries: DefaultMaxRetries,
		backoff:    RetryBackoff,
		log:        logger.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type challengeRequest struct {
	AgentID   string `json:"agent_id"`
	RequestID string `json:"request_id"`
}

type challengeResponse struct {
	Nonce     string `json:"nonce"`
	Cert      string `json:"cert"`
	Signature string `json:"signature"`
}

type proofRequest struct {
	AgentID   string `json:"agent_id"`
	RequestID string `json:"request_id"`
	Nonce     string `json:"nonce"`
	PublicKey string `json:"public_key"`
	Cert      string `json:"cert"`
	Signature string `json:"signature"`
}

type proofResponse struct {
	Signature  string `json:"signature"`
	ServerIP   string `json:"server_ip"`
	Port       int    `json:"port"`
	SignCookie uint64 `json:"sign_cookie"`
}

// SignIn runs the full challenge/proof exchange for id and returns the
// resulting Session. A successful call atomically represents
// {signature, server_ip, port, sign_cookie, signed_in=true}.
func (c *Client) SignIn(ctx context.Context, id Identity) (*Session, error) {
	start := time.Now()
	defer func() {
		metrics.AuthDuration.WithLabelValues("signin").Observe(time.Since(start).Seconds())
	}()

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")

	chal, err := c.challenge(ctx, id.AgentID, requestID)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("signin", "failure").Inc()
		return nil, err
	}

	if chal.Signature != "" && chal.Nonce == "" {
		metrics.AuthAttempts.WithLabelValues("signin", "success").Inc()
		return &Session{Signature: chal.Signature, SignedIn: true}, nil
	}

	sess, err := c.proof(ctx, id, requestID, chal.Nonce)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("signin", "failure").Inc()
		return nil, err
	}
	metrics.AuthAttempts.WithLabelValues("signin", "success").Inc()
	return sess, nil
}

func (c *Client) challenge(ctx context.Context, agentID, requestID string) (*challengeResponse, error) {
	body := challengeRequest{AgentID: agentID, RequestID: requestID}
	resp, err := c.postWithRetry(ctx, c.baseURL+"/sign_in", body)
	if err != nil {
		return nil, err
	}
	var out challengeResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, acperr.Wrap(acperr.AuthFailed, "auth: decode challenge response", err)
	}
	return &out, nil
}

func (c *Client) proof(ctx context.Context, id Identity, requestID, nonce string) (*Session, error) {
	kp, err := keys.LoadP384KeyPair(id.PrivateKey)
	if err != nil {
		return nil, acperr.Wrap(acperr.CertError, "auth: load private key", err)
	}
	sigHex, err := keys.ECDSASHA256SignHex(kp, []byte(nonce))
	if err != nil {
		return nil, acperr.Wrap(acperr.AuthFailed, "auth: sign nonce", err)
	}
	pubPEM, err := keys.PublicKeyPEMFromCert(id.CertPEM)
	if err != nil {
		return nil, acperr.Wrap(acperr.CertError, "auth: extract public key from cert", err)
	}

	body := proofRequest{
		AgentID:   id.AgentID,
		RequestID: requestID,
		Nonce:     nonce,
		PublicKey: pubPEM,
		Cert:      id.CertPEM,
		Signature: sigHex,
	}
	resp, err := c.postWithRetry(ctx, c.baseURL+"/sign_in", body)
	if err != nil {
		return nil, err
	}
	var out proofResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, acperr.Wrap(acperr.AuthFailed, "auth: decode proof response", err)
	}
	return &Session{
		Signature:  out.Signature,
		ServerIP:   out.ServerIP,
		Port:       out.Port,
		SignCookie: out.SignCookie,
		SignedIn:   true,
	}, nil
}

// SignOut posts the cached signature to <base>/sign_out. The cached
// signature is considered cleared by the caller regardless of the
// HTTP outcome (spec.md §4.7).
func (c *Client) SignOut(ctx context.Context, agentID, signature string) error {
	body := struct {
		AgentID   string `json:"agent_id"`
		Signature string `json:"signature"`
	}{AgentID: agentID, Signature: signature}

	resp, err := c.http.PostJSON(ctx, c.baseURL+"/sign_out", body)
	if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		err = fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("signout", "failure").Inc()
		c.log.Warn("auth: sign_out request failed", logger.String("agent_id", agentID), logger.Error(err))
		return acperr.Wrap(acperr.AuthFailed, "auth: sign_out", err)
	}
	metrics.AuthAttempts.WithLabelValues("signout", "success").Inc()
	return nil
}

// postWithRetry issues a POST, retrying up to c.maxRetries additional
// times on HTTP failure with a fixed backoff. Parse/crypto failures
// are the caller's concern and are never retried here.
func (c *Client) postWithRetry(ctx context.Context, url string, body any) (*achttp.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff):
			}
		}
		resp, err := c.http.PostJSON(ctx, url, body)
		if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
			err = fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.log.Warn("auth: request failed, retrying", logger.String("url", url), logger.Int("attempt", attempt), logger.Error(err))
	}
	return nil, acperr.Wrap(acperr.NetworkError, fmt.Sprintf("auth: request to %s failed after %d attempts", url, c.maxRetries+1), lastErr)
}
