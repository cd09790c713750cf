// Package solver talks to the upstream captcha solving API. Every call is a
// single attempt bounded by the client timeout, task creation is not
// idempotent upstream so nothing is retried
package solver

import (
	"bitwise74/captcha-gateway/internal/telemetry"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrTransport wraps anything that kept a call from producing a usable
// reply: network failures, timeouts, non 2xx responses and garbage bodies
var ErrTransport = errors.New("solver unreachable")

// SuccessCode is the application level code the solver uses for success
const SuccessCode = 200

const maxReplySize = 1 << 20

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type Balance struct {
	Status  string  `json:"status"`
	Balance float64 `json:"balance"`
	Plan    string  `json:"plan"`
	Error   string  `json:"error"`
}

// OK reports whether the solver accepted the key
func (b *Balance) OK() bool {
	return b.Status == "ok"
}

// Reply is a createTask response. Raw is kept byte for byte so it can be
// relayed and stored without the gateway knowing the solver's schema
type Reply struct {
	Code int
	Msg  string
	Raw  json.RawMessage
}

func (r *Reply) OK() bool {
	return r.Code == SuccessCode
}

func (c *Client) Balance(ctx context.Context, apiKey string) (*Balance, error) {
	u := c.baseURL + "/balance?" + url.Values{"apiKey": {apiKey}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance request, %w", err)
	}

	body, err := c.do(req, "balance")
	if err != nil {
		return nil, err
	}

	var b Balance
	if err := json.Unmarshal(body, &b); err != nil {
		telemetry.SolverRequestsTotal.WithLabelValues("balance", "error").Inc()
		return nil, fmt.Errorf("%w: failed to decode balance reply, %v", ErrTransport, err)
	}

	outcome := "ok"
	if !b.OK() {
		outcome = "rejected"
	}
	telemetry.SolverRequestsTotal.WithLabelValues("balance", outcome).Inc()

	return &b, nil
}

func (c *Client) CreateTask(ctx context.Context, apiKey string, task json.RawMessage) (*Reply, error) {
	payload, err := json.Marshal(struct {
		APIKey string          `json:"apiKey"`
		Task   json.RawMessage `json:"task"`
	}{apiKey, task})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task, %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/createTask", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create task request, %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, "createTask")
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		telemetry.SolverRequestsTotal.WithLabelValues("createTask", "error").Inc()
		return nil, fmt.Errorf("%w: solver replied with invalid json", ErrTransport)
	}

	r := &Reply{
		Code: int(gjson.GetBytes(body, "code").Int()),
		Msg:  gjson.GetBytes(body, "msg").String(),
		Raw:  json.RawMessage(body),
	}

	outcome := "ok"
	if !r.OK() {
		outcome = "rejected"
	}
	telemetry.SolverRequestsTotal.WithLabelValues("createTask", outcome).Inc()

	return r, nil
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.SolverRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		telemetry.SolverRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: failed to read reply, %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.SolverRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}

	return body, nil
}
