package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// ErrClosed is returned for requests after Close or a lost push channel.
var ErrClosed = errors.New("client closed")

const opBuffer = 256

// Config configures a Client.
type Config struct {
	BaseURL   string
	SessionID id.SessionID // generated when empty
	File      string       // notebook path relative to the workspace root
	Timeout   time.Duration
	RetryMax  int
	Logger    *zap.Logger
}

// Op is a pushed op with its payload left encoded.
type Op struct {
	Name string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into dst.
func (o Op) Decode(dst any) error {
	return sonic.Unmarshal(o.Data, dst)
}

// Client drives one notebook session: calls go over HTTP, results come
// back on the push channel.
type Client struct {
	cfg   Config
	resty *resty.Client
	pool  *http.Client
	log   *zap.Logger

	completions *Deferred[protocol.CompletionResult]
	functions   *Deferred[protocol.FunctionCallResult]

	ops  chan Op
	done chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a client. Call Connect before session calls.
func New(cfg Config) *Client {
	if cfg.SessionID.IsZero() {
		cfg.SessionID = id.NewSessionID()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.Logger = nil
	retryClient.CheckRetry = retryThrottled
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		cfg:  cfg,
		pool: retryClient.HTTPClient,
		resty: resty.NewWithClient(retryClient.StandardClient()).
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetHeader(protocol.SessionHeader, cfg.SessionID.String()).
			SetHeader("Content-Type", "application/json").
			SetJSONMarshaler(sonic.Marshal).
			SetJSONUnmarshaler(sonic.Unmarshal),
		log:         log,
		completions: NewDeferred[protocol.CompletionResult](),
		functions:   NewDeferred[protocol.FunctionCallResult](),
		ops:         make(chan Op, opBuffer),
		done:        make(chan struct{}),
	}
}

// retryThrottled retries transport failures and throttling only; a call
// the server answered is never replayed.
func retryThrottled(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// SessionID returns the session the client is bound to.
func (c *Client) SessionID() id.SessionID { return c.cfg.SessionID }

// Ops returns pushed ops other than correlated results. Ops are dropped
// while the buffer is full. The channel closes when the push channel ends.
func (c *Client) Ops() <-chan Op { return c.ops }

// Connect opens the push channel, which opens or resumes the session.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("session_id", c.cfg.SessionID.String())
	if c.cfg.File != "" {
		q.Set("file", c.cfg.File)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.done)
	defer close(c.ops)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Debug("push channel ended", zap.Error(err))
			c.completions.Fail(ErrClosed)
			c.functions.Fail(ErrClosed)
			return
		}
		var op Op
		if err := sonic.Unmarshal(data, &op); err != nil {
			c.log.Warn("undecodable op", zap.Error(err))
			continue
		}
		c.route(op)
	}
}

func (c *Client) route(op Op) {
	switch op.Name {
	case protocol.OpCompletionResult:
		var res protocol.CompletionResult
		if err := op.Decode(&res); err == nil && c.completions.Resolve(res.CompletionID, res) {
			return
		}
	case protocol.OpFunctionCallResult:
		var res protocol.FunctionCallResult
		if err := op.Decode(&res); err == nil && c.functions.Resolve(res.FunctionCallID, res) {
			return
		}
	}
	select {
	case c.ops <- op:
	default:
		c.log.Warn("op buffer full, dropping op", zap.String("op", op.Name))
	}
}

// Close closes the push channel, waits for the reader to stop and releases
// idle HTTP connections.
func (c *Client) Close() error {
	c.pool.CloseIdleConnections()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := conn.Close()
	<-c.done
	return err
}

// post sends a JSON call, continuing any trace carried by ctx. Error bodies
// are returned as *protocol.Error.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	headers := make(map[string]string, 2)
	tracing.InjectTraceContext(ctx, headers)

	var failure protocol.ErrorBody
	req := c.resty.R().SetContext(ctx).SetHeaders(headers).SetError(&failure)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.IsError() {
		if failure.Error.Type == "" {
			return protocol.BackendExecution(nil, "POST %s: %s", path, resp.Status())
		}
		return &protocol.Error{Kind: failure.Error.Type, Message: failure.Error.Message}
	}
	return nil
}
