// Package http implements the ACP core's HTTP client (C3): a
// synchronous client (connections pooled by net/http) used by the
// auth client (C7) for sign-in/sign-out and, more generally, by any
// collaborator that needs JSON POST, multipart upload, or streaming
// download with a pluggable DNS resolver hook.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"time"
)

// ProgressFunc is invoked periodically during a streaming upload or
// download with the number of bytes transferred so far and, when
// known, the total size (0 if unknown).
type ProgressFunc func(transferred, total int64)

// DialHook lets a collaborator resolve host -> IP before falling back
// to the system resolver (spec.md §4.3: "mobile platforms need
// VPN/captive-portal friendly name resolution").
type DialHook func(ctx context.Context, host string) (ip string, err error)

// Client is a synchronous HTTP client with per-call timeouts and an
// optional pluggable DNS hook. One Client is normally shared by all
// calls against a single base URL, but every call opens its own
// connection unless the transport pool reuses it.
type Client struct {
	httpClient *http.Client
	dialHook   DialHook
}

// Option configures a Client.
type Option func(*Client)

// WithTLSConfig sets the TLS configuration (verify toggle, client
// certs, custom CA) used for https:// calls.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport.(*http.Transport)
		transport.TLSClientConfig = cfg
	}
}

// WithDialHook installs the optional DNS resolver hook for this Client.
func WithDialHook(hook DialHook) Option {
	return func(c *Client) { c.dialHook = hook }
}

// WithTimeout sets the overall per-call timeout (connect + I/O).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New builds a Client with a fresh *http.Transport so dial hooks and
// TLS settings don't leak into the shared http.DefaultTransport.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{},
		},
	}
	base := c.httpClient.Transport.(*http.Transport)
	base.DialContext = c.dial
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if c.dialHook == nil {
		return dialer.DialContext(ctx, network, addr)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return dialer.DialContext(ctx, network, addr)
	}
	ip, err := c.dialHook(ctx, host)
	if err != nil || ip == "" {
		return dialer.DialContext(ctx, network, addr)
	}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

// Response is the decoded result of a JSON request.
type Response struct {
	StatusCode int
	Body       []byte
}

// PostJSON POSTs body (marshaled to JSON) to url and returns the raw
// response bytes. Used by the auth client's challenge/proof exchange
// (spec.md §4.7).
func (c *Client) PostJSON(ctx context.Context, url string, body any) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("transport/http: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("transport/http: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Get issues a GET request and returns the raw response bytes.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport/http: build request: %w", err)
	}
	return c.do(req)
}

// GetToFile streams a GET response body to destPath, invoking progress
// after every chunk.
func (c *Client) GetToFile(ctx context.Context, url, destPath string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("transport/http: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport/http: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("transport/http: GET %s: HTTP %d: %s", url, resp.StatusCode, string(b))
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("transport/http: create %s: %w", destPath, err)
	}
	defer f.Close()

	total := resp.ContentLength
	var transferred int64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("transport/http: write %s: %w", destPath, werr)
			}
			transferred += int64(n)
			if progress != nil {
				progress(transferred, total)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("transport/http: read response: %w", rerr)
		}
	}
}

// MultipartField is one non-file form field in a multipart upload.
type MultipartField struct {
	Name  string
	Value string
}

// PostMultipart uploads a single file plus form fields to url,
// streaming the file body and invoking progress as bytes are written.
func (c *Client) PostMultipart(ctx context.Context, url, fieldName, filePath string, fields []MultipartField, progress ProgressFunc) (*Response, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("transport/http: open %s: %w", filePath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("transport/http: stat %s: %w", filePath, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		defer mw.Close()
		for _, field := range fields {
			if err := mw.WriteField(field.Name, field.Value); err != nil {
				pw.CloseWithError(fmt.Errorf("transport/http: write field %s: %w", field.Name, err))
				return
			}
		}
		part, err := mw.CreateFormFile(fieldName, info.Name())
		if err != nil {
			pw.CloseWithError(fmt.Errorf("transport/http: create form file: %w", err))
			return
		}
		var transferred int64
		buf := make([]byte, 32*1024)
		for {
			n, rerr := f.Read(buf)
			if n > 0 {
				if _, werr := part.Write(buf[:n]); werr != nil {
					pw.CloseWithError(fmt.Errorf("transport/http: write part: %w", werr))
					return
				}
				transferred += int64(n)
				if progress != nil {
					progress(transferred, info.Size())
				}
			}
			if rerr == io.EOF {
				return
			}
			if rerr != nil {
				pw.CloseWithError(fmt.Errorf("transport/http: read file: %w", rerr))
				return
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, fmt.Errorf("transport/http: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport/http: request failed: %w", err)
	}
	defer resp.Body.Close()
	// Transfer-Encoding: chunked is decoded transparently by net/http.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport/http: read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
