package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"wgnet/pkg/errs"
	"wgnet/pkg/model"
)

// Client is the node side of the coordinator RPC. Every call is bounded by
// the client timeout.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	token   string
}

type ClientOption func(*Client)

// WithTLS switches the client to HTTPS with cfg.
func WithTLS(cfg *tls.Config) ClientOption {
	return func(c *Client) {
		c.base = strings.Replace(c.base, "http://", "https://", 1)
		c.http.Transport = &http.Transport{TLSClientConfig: cfg}
	}
}

// WithHTTPClient replaces the underlying client, keeping the timeout.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		h.Timeout = c.timeout
		c.http = h
	}
}

// WithToken sends token as X-Auth-Token, needed for the admin endpoints.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// NewClient targets the coordinator at server, given as host:port or a URL.
func NewClient(server string, timeout time.Duration, opts ...ClientOption) *Client {
	base := server
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Ping(ctx context.Context, msg string) (string, error) {
	var resp PingResponse
	if err := c.call(ctx, "ping", PathPing, PingRequest{Msg: msg}, &resp); err != nil {
		return "", err
	}
	return resp.Msg, nil
}

func (c *Client) RedeemInvite(ctx context.Context, key string) ([]model.InterfaceConfig, error) {
	var resp RedeemInviteResponse
	if err := c.call(ctx, "redeem_invite", PathRedeemInvite, RedeemInviteRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	out := make([]model.InterfaceConfig, 0, len(resp.IfaceConfig))
	for _, r := range resp.IfaceConfig {
		cfg, err := r.Decode()
		if err != nil {
			return nil, &errs.ProtocolError{Call: "redeem_invite", Err: err}
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (c *Client) PostEndpoint(ctx context.Context, key string, internal, external *netip.AddrPort) (bool, error) {
	var resp PostEndpointResponse
	req := PostEndpointRequest{Key: key, InternalEndpoint: endpointText(internal), ExternalEndpoint: endpointText(external)}
	if err := c.call(ctx, "post_endpoint", PathPostEndpoint, req, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (c *Client) GetPeers(ctx context.Context, key string) ([]model.PeerConfig, error) {
	var resp GetPeersResponse
	if err := c.call(ctx, "get_peers", PathGetPeers, GetPeersRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	out := make([]model.PeerConfig, 0, len(resp.Peers))
	for _, r := range resp.Peers {
		p, err := r.Decode()
		if err != nil {
			return nil, &errs.ProtocolError{Call: "get_peers", Err: err}
		}
		out = append(out, p)
	}
	return out, nil
}

// CreateInvite asks the coordinator for a new invite. It needs WithToken
// unless admin access is open.
func (c *Client) CreateInvite(ctx context.Context, req InviteRequest) (InviteResponse, error) {
	var resp InviteResponse
	if err := c.call(ctx, "create_invite", "/api/v1/invites", req, &resp); err != nil {
		return InviteResponse{}, err
	}
	return resp, nil
}

// call posts req as JSON and decodes the reply into resp. Transport
// failures are returned as they are; remote errors and undecodable replies
// become ProtocolError.
func (c *Client) call(ctx context.Context, name, path string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return &errs.ProtocolError{Call: name, Err: err}
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc %s: %w", name, err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		hreq.Header.Set("X-Auth-Token", c.token)
	}
	hresp, err := c.http.Do(hreq)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", name, err)
	}
	defer hresp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(hresp.Body, 4<<20))
	if err != nil {
		return &errs.ProtocolError{Call: name, Status: hresp.StatusCode, Err: err}
	}
	if hresp.StatusCode/100 != 2 {
		var e ErrorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &errs.ProtocolError{Call: name, Status: hresp.StatusCode, Err: errors.New(msg)}
	}
	if err := json.Unmarshal(raw, resp); err != nil {
		return &errs.ProtocolError{Call: name, Status: hresp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
