// Package telemetry is a MyGeotab JSON-RPC client for vehicle and driving data.
package telemetry

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

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/and161185/gt-lab/internal/errs"
)

// ResultsLimit caps every Get call.
const ResultsLimit = 50000

const invalidUser = "InvalidUserException"

// Config locates the telemetry database and the account used to read it.
type Config struct {
	Server   string // host or URL, e.g. my.geotab.com
	Database string
	Username string
	Password string

	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Credentials is the session returned by Authenticate.
type Credentials struct {
	Database  string `json:"database"`
	SessionID string `json:"sessionId"`
	UserName  string `json:"userName"`
}

// RPCError is the error object of a failed JSON-RPC call.
type RPCError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Errors  []struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (e *RPCError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("%s: %s", e.Errors[0].Name, e.Errors[0].Message)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Unwrap classifies every RPC error as an upstream failure.
func (e *RPCError) Unwrap() error { return errs.ErrUpstream }

func (e *RPCError) invalidUser() bool {
	if e.Name == invalidUser {
		return true
	}
	for _, x := range e.Errors {
		if x.Name == invalidUser {
			return true
		}
	}
	return false
}

// Client talks to one telemetry database. It authenticates lazily and caches the session.
type Client struct {
	cfg  Config
	http *retryablehttp.Client
	log  *zap.Logger

	authMu sync.Mutex // serializes session opening

	mu       sync.Mutex
	endpoint string
	creds    *Credentials
}

// New validates cfg and builds a client.
func New(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.Server == "" || cfg.Database == "" || cfg.Username == "" {
		return nil, fmt.Errorf("telemetry: server, database and username are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	hc := retryablehttp.NewClient()
	hc.Logger = leveled{log.Named("telemetry.http").Sugar()}
	if cfg.RetryMax > 0 {
		hc.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWaitMin > 0 {
		hc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		hc.RetryWaitMax = cfg.RetryWaitMax
	}
	return &Client{cfg: cfg, http: hc, log: log, endpoint: endpointFor(cfg.Server)}, nil
}

func endpointFor(server string) string {
	server = strings.TrimRight(server, "/")
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	return server + "/apiv1"
}

// Authenticate opens a session and caches its credentials.
func (c *Client) Authenticate(ctx context.Context) (Credentials, error) {
	var res struct {
		Credentials Credentials `json:"credentials"`
		Path        string      `json:"path"`
	}
	err := c.rpc(ctx, c.currentEndpoint(), "Authenticate", map[string]any{
		"database": c.cfg.Database,
		"userName": c.cfg.Username,
		"password": c.cfg.Password,
	}, &res)
	if err != nil {
		return Credentials{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = &res.Credentials
	// the database may live on another server
	if res.Path != "" && res.Path != "ThisServer" {
		c.endpoint = endpointFor(res.Path)
	}
	c.log.Info("telemetry session opened", zap.String("database", res.Credentials.Database))
	return res.Credentials, nil
}

func (c *Client) currentEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

func (c *Client) session(ctx context.Context) (Credentials, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	if creds != nil {
		return *creds, nil
	}
	return c.Authenticate(ctx)
}

// Call invokes method with params, adding session credentials. An expired session is
// re-opened once.
func (c *Client) Call(ctx context.Context, method string, params map[string]any, out any) error {
	for attempt := 0; ; attempt++ {
		creds, err := c.session(ctx)
		if err != nil {
			return err
		}
		p := make(map[string]any, len(params)+1)
		for k, v := range params {
			p[k] = v
		}
		p["credentials"] = creds

		err = c.rpc(ctx, c.currentEndpoint(), method, p, out)
		var rpcErr *RPCError
		if attempt == 0 && errors.As(err, &rpcErr) && rpcErr.invalidUser() {
			c.log.Info("telemetry session expired, re-authenticating")
			c.mu.Lock()
			c.creds = nil
			c.mu.Unlock()
			continue
		}
		return err
	}
}

// Get runs a Get call for typeName with the standard results limit.
func (c *Client) Get(ctx context.Context, typeName string, search map[string]any, out any) error {
	return c.Call(ctx, "Get", map[string]any{
		"typeName":     typeName,
		"resultsLimit": ResultsLimit,
		"search":       search,
	}, out)
}

type rpcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) rpc(ctx context.Context, endpoint, method string, params map[string]any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("telemetry: marshal %s: %w", method, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("telemetry: %s: %w: %w", method, errs.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telemetry: %s: %w: status %d: %s", method, errs.ErrUpstream, resp.StatusCode, bytes.TrimSpace(b))
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("telemetry: %s: %w: decode: %w", method, errs.ErrUpstream, err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if out == nil || len(rr.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("telemetry: %s: %w: result: %w", method, errs.ErrUpstream, err)
	}
	return nil
}
