package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgnet/pkg/config"
	"wgnet/pkg/errs"
	"wgnet/pkg/logging"
	"wgnet/pkg/model"
)

func newTestServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	if s.Coord == nil {
		s.Coord = newCoordinator(t, nil)
	}
	s.Log = logging.Discard()
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestClientRPC(t *testing.T) {
	coord := newCoordinator(t, nil)
	ts := newTestServer(t, &Server{Coord: coord})
	client := NewClient(ts.URL, 2*time.Second)
	ctx := context.Background()

	msg, err := client.Ping(ctx, "hello")
	require.NoError(t, err)
	assert.Contains(t, msg, "I'm server")

	var keys []string
	for _, addr := range []string{"10.0.0.2/24", "10.0.0.3/24"} {
		resp, err := coord.CreateInvite(ctx, "admin", inviteFor("n", addr))
		require.NoError(t, err)
		cfgs, err := client.RedeemInvite(ctx, resp.Key)
		require.NoError(t, err)
		require.Len(t, cfgs, 1)
		keys = append(keys, cfgs[0].PrivateKey)

		_, err = client.RedeemInvite(ctx, resp.Key)
		var pErr *errs.ProtocolError
		require.ErrorAs(t, err, &pErr)
		assert.Equal(t, http.StatusConflict, pErr.Status)
		assert.Contains(t, pErr.Error(), "already redeemed")
	}

	internal := netip.MustParseAddrPort("192.168.1.5:51820")
	external := netip.MustParseAddrPort("198.51.100.5:40000")
	ok, err := client.PostEndpoint(ctx, keys[0], &internal, &external)
	require.NoError(t, err)
	assert.True(t, ok)

	peers, err := client.GetPeers(ctx, keys[1])
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.NotNil(t, peers[0].Endpoint)
	assert.Equal(t, external, *peers[0].Endpoint)

	id, err := model.NewIdentity()
	require.NoError(t, err)
	_, err = client.GetPeers(ctx, id.PrivateKey.String())
	var pErr *errs.ProtocolError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, http.StatusNotFound, pErr.Status)
}

func TestClientProtocolErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathPing, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"msg":`))
	})
	mux.HandleFunc(PathGetPeers, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, GetPeersResponse{Peers: []PeerConfigRecord{{PublicKey: "bogus"}}})
	})
	mux.HandleFunc(PathPostEndpoint, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := NewClient(ts.URL, time.Second)
	ctx := context.Background()

	var pErr *errs.ProtocolError
	_, err := client.Ping(ctx, "x")
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "ping", pErr.Call)

	_, err = client.GetPeers(ctx, "k")
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "get_peers", pErr.Call)

	_, err = client.PostEndpoint(ctx, "k", nil, nil)
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, http.StatusBadGateway, pErr.Status)
	assert.Contains(t, pErr.Error(), "boom")
}

func TestClientTimeout(t *testing.T) {
	block := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(block)

	client := NewClient(ts.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := client.Ping(context.Background(), "x")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	var pErr *errs.ProtocolError
	assert.False(t, errors.As(err, &pErr))
}

func TestServerRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, &Server{})

	resp, err := http.Get(ts.URL + PathPing)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+PathRedeemInvite, "application/json", stringsReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+PathPostEndpoint, "application/json", stringsReader(`{"key":"k","internal_endpoint":"nope"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInviteEndpoint(t *testing.T) {
	ts := newTestServer(t, &Server{AdminToken: "s3cret"})
	body := `{"node":"n1","interfaces":[{"name":"wg0","addrs":["10.0.0.2/24"]}]}`

	resp, err := http.Post(ts.URL+"/api/v1/invites", "application/json", stringsReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/invites", stringsReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Auth-Token", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out InviteResponse
	require.NoError(t, decodeBody(resp, &out))
	inv, err := config.DecodeInvite(out.Invite)
	require.NoError(t, err)
	assert.Equal(t, out.Key, inv.Key)
}

func TestClientCreateInvite(t *testing.T) {
	ts := newTestServer(t, &Server{AdminToken: "s3cret"})
	ctx := context.Background()

	_, err := NewClient(ts.URL, 2*time.Second).CreateInvite(ctx, inviteFor("n1", "10.0.0.2/24"))
	var pErr *errs.ProtocolError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, http.StatusUnauthorized, pErr.Status)

	client := NewClient(ts.URL, 2*time.Second, WithToken("s3cret"))
	resp, err := client.CreateInvite(ctx, inviteFor("n1", "10.0.0.2/24"))
	require.NoError(t, err)
	cfgs, err := client.RedeemInvite(ctx, resp.Key)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "wg0", cfgs[0].Name)
}

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func decodeBody(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
