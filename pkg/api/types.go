package api

import (
	"fmt"
	"net/netip"

	"wgnet/pkg/model"
)

// RPC paths served by the coordinator.
const (
	PathPing         = "/api/v1/rpc/ping"
	PathRedeemInvite = "/api/v1/rpc/redeem_invite"
	PathPostEndpoint = "/api/v1/rpc/post_endpoint"
	PathGetPeers     = "/api/v1/rpc/get_peers"
)

type PingRequest struct {
	Msg string `json:"msg"`
}

type PingResponse struct {
	Msg string `json:"msg"`
}

type RedeemInviteRequest struct {
	Key string `json:"key"`
}

type RedeemInviteResponse struct {
	IfaceConfig []InterfaceConfigRecord `json:"iface_config"`
}

type PostEndpointRequest struct {
	Key              string  `json:"key"`
	InternalEndpoint *string `json:"internal_endpoint,omitempty"`
	ExternalEndpoint *string `json:"external_endpoint,omitempty"`
}

type PostEndpointResponse struct {
	OK bool `json:"ok"`
}

type GetPeersRequest struct {
	Key string `json:"key"`
}

type GetPeersResponse struct {
	Peers []PeerConfigRecord `json:"peers"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// InterfaceConfigRecord is the wire form of model.InterfaceConfig. Address
// fields travel as text and are validated by Decode.
type InterfaceConfigRecord struct {
	Name             string                      `json:"name"`
	PrivateKey       string                      `json:"private_key"`
	Addrs            []string                    `json:"addrs"`
	ListenPort       *uint16                     `json:"listen_port,omitempty"`
	MTU              *uint32                     `json:"mtu,omitempty"`
	InternalEndpoint *string                     `json:"internal_endpoint,omitempty"`
	ExternalEndpoint *string                     `json:"external_endpoint,omitempty"`
	Peers            map[string]PeerConfigRecord `json:"peers"`
}

// PeerConfigRecord is the wire form of model.PeerConfig.
type PeerConfigRecord struct {
	PublicKey           string   `json:"public_key"`
	Endpoint            *string  `json:"endpoint,omitempty"`
	AllowedIPs          []string `json:"allowed_ips"`
	PresharedKey        *string  `json:"preshared_key,omitempty"`
	PersistentKeepalive *uint16  `json:"persistent_keepalive,omitempty"`
}

func EncodeInterface(c model.InterfaceConfig) InterfaceConfigRecord {
	r := InterfaceConfigRecord{
		Name:             c.Name,
		PrivateKey:       c.PrivateKey,
		Addrs:            prefixText(c.Addrs),
		ListenPort:       copyPtr(c.ListenPort),
		MTU:              copyPtr(c.MTU),
		InternalEndpoint: endpointText(c.InternalEndpoint),
		ExternalEndpoint: endpointText(c.ExternalEndpoint),
		Peers:            make(map[string]PeerConfigRecord, len(c.Peers)),
	}
	for name, p := range c.Peers {
		r.Peers[name] = EncodePeer(p)
	}
	return r
}

func EncodePeer(p model.PeerConfig) PeerConfigRecord {
	return PeerConfigRecord{
		PublicKey:           p.PublicKey,
		Endpoint:            endpointText(p.Endpoint),
		AllowedIPs:          prefixText(p.AllowedIPs),
		PresharedKey:        copyPtr(p.PresharedKey),
		PersistentKeepalive: copyPtr(p.PersistentKeepalive),
	}
}

// Decode parses and validates the record.
func (r InterfaceConfigRecord) Decode() (model.InterfaceConfig, error) {
	c := model.InterfaceConfig{
		Name:       r.Name,
		PrivateKey: r.PrivateKey,
		ListenPort: copyPtr(r.ListenPort),
		MTU:        copyPtr(r.MTU),
		Peers:      make(map[string]model.PeerConfig, len(r.Peers)),
	}
	var err error
	if c.Addrs, err = parsePrefixes(r.Addrs); err != nil {
		return model.InterfaceConfig{}, fmt.Errorf("interface %s addrs: %w", r.Name, err)
	}
	if c.InternalEndpoint, err = parseEndpoint(r.InternalEndpoint); err != nil {
		return model.InterfaceConfig{}, fmt.Errorf("interface %s internal_endpoint: %w", r.Name, err)
	}
	if c.ExternalEndpoint, err = parseEndpoint(r.ExternalEndpoint); err != nil {
		return model.InterfaceConfig{}, fmt.Errorf("interface %s external_endpoint: %w", r.Name, err)
	}
	for name, pr := range r.Peers {
		p, err := pr.Decode()
		if err != nil {
			return model.InterfaceConfig{}, fmt.Errorf("interface %s peer %s: %w", r.Name, name, err)
		}
		c.Peers[name] = p
	}
	if err := c.Validate(); err != nil {
		return model.InterfaceConfig{}, err
	}
	return c, nil
}

func (r PeerConfigRecord) Decode() (model.PeerConfig, error) {
	p := model.PeerConfig{
		PublicKey:           r.PublicKey,
		PresharedKey:        copyPtr(r.PresharedKey),
		PersistentKeepalive: copyPtr(r.PersistentKeepalive),
	}
	var err error
	if p.Endpoint, err = parseEndpoint(r.Endpoint); err != nil {
		return model.PeerConfig{}, fmt.Errorf("endpoint: %w", err)
	}
	if p.AllowedIPs, err = parsePrefixes(r.AllowedIPs); err != nil {
		return model.PeerConfig{}, fmt.Errorf("allowed_ips: %w", err)
	}
	if err := p.Validate(); err != nil {
		return model.PeerConfig{}, err
	}
	return p, nil
}

func prefixText(ps []netip.Prefix) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}

func parsePrefixes(ss []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(ss))
	for _, s := range ss {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func endpointText(ep *netip.AddrPort) *string {
	if ep == nil {
		return nil
	}
	s := ep.String()
	return &s
}

func parseEndpoint(s *string) (*netip.AddrPort, error) {
	if s == nil {
		return nil, nil
	}
	ap, err := netip.ParseAddrPort(*s)
	if err != nil {
		return nil, err
	}
	return &ap, nil
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
