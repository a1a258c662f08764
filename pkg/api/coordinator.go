package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"wgnet/pkg/config"
	"wgnet/pkg/errs"
	"wgnet/pkg/model"
	"wgnet/pkg/store"
	"wgnet/pkg/topology"
)

// BootstrapIface is the interface name handed out in invites.
const BootstrapIface = "wgboot"

// SelfInterface is the coordinator's own tunnel interface.
type SelfInterface interface {
	Desired() model.InterfaceConfig
	Replace(model.InterfaceConfig) bool
	Up() error
}

// Options configures a Coordinator. Self and Hub are optional.
type Options struct {
	Self         SelfInterface
	ServerSocket string
	Hub          *Hub
	Log          *slog.Logger
}

// Coordinator holds the authoritative membership and answers node RPCs.
type Coordinator struct {
	store        store.Store
	self         SelfInterface
	selfPub      string
	serverSocket string
	hub          *Hub
	log          *slog.Logger
	now          func() time.Time
	newKey       func() string

	// mu orders invite creation and redemption so peer sets are derived
	// from a consistent view.
	mu sync.Mutex
}

// InviteRequest asks for one invite covering a set of interfaces.
type InviteRequest struct {
	Node          string            `json:"node"`
	BootstrapAddr string            `json:"bootstrap_addr,omitempty"`
	Interfaces    []InviteInterface `json:"interfaces"`
}

type InviteInterface struct {
	Name       string   `json:"name"`
	Addrs      []string `json:"addrs"`
	ListenPort *uint16  `json:"listen_port,omitempty"`
	MTU        *uint32  `json:"mtu,omitempty"`
}

type InviteResponse struct {
	Key    string `json:"key"`
	Invite string `json:"invite"`
}

func NewCoordinator(st store.Store, opts Options) (*Coordinator, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		store:        st,
		self:         opts.Self,
		serverSocket: opts.ServerSocket,
		hub:          opts.Hub,
		log:          log.With("component", "coordinator"),
		now:          time.Now,
		newKey:       func() string { return uuid.NewString() },
	}
	if c.self != nil {
		id, err := c.self.Desired().Identity()
		if err != nil {
			return nil, &errs.ConfigError{Source: "coordinator interface", Err: err}
		}
		c.selfPub = id.PublicKey.String()
	}
	return c, nil
}

// Start brings the coordinator's own interface up with the current peer set.
func (c *Coordinator) Start() {
	if c.self == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rebuildSelf() {
		return
	}
	if err := c.self.Up(); err != nil {
		c.log.Error("coordinator interface up failed", "iface", c.self.Desired().Name, "stage", errs.Stage(err), "err", err)
	}
}

// Resync recomputes the own interface after an external store change.
func (c *Coordinator) Resync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuildSelf()
}

func (c *Coordinator) Ping(remote, msg string) string {
	c.log.Debug("ping", "remote", remote, "msg", msg)
	return fmt.Sprintf("Hi %s, I'm server", remote)
}

// CreateInvite allocates keys for every requested interface and returns
// the encoded credential.
func (c *Coordinator) CreateInvite(_ context.Context, actor string, req InviteRequest) (InviteResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(req.Interfaces) == 0 {
		return InviteResponse{}, badRequest("at least one interface is required")
	}
	existing, err := c.store.ListMembers()
	if err != nil {
		return InviteResponse{}, err
	}
	used := map[string]map[netip.Addr]bool{}
	for _, m := range existing {
		if used[m.Network] == nil {
			used[m.Network] = map[netip.Addr]bool{}
		}
		for _, a := range m.Config.Addrs {
			used[m.Network][a.Addr()] = true
		}
	}

	key := c.newKey()
	now := c.now()
	names := map[string]bool{}
	members := make([]model.Member, 0, len(req.Interfaces))
	for _, ifc := range req.Interfaces {
		if ifc.Name == "" || names[ifc.Name] {
			return InviteResponse{}, badRequest(fmt.Sprintf("interface name %q is empty or repeated", ifc.Name))
		}
		names[ifc.Name] = true
		addrs, err := parsePrefixes(ifc.Addrs)
		if err != nil {
			return InviteResponse{}, badRequest(fmt.Sprintf("interface %s addrs: %v", ifc.Name, err))
		}
		for _, a := range addrs {
			if used[ifc.Name][a.Addr()] {
				return InviteResponse{}, badRequest(fmt.Sprintf("address %s already allocated in %s", a.Addr(), ifc.Name))
			}
		}
		id, err := model.NewIdentity()
		if err != nil {
			return InviteResponse{}, err
		}
		members = append(members, model.Member{
			PublicKey: id.PublicKey.String(),
			Node:      req.Node,
			Network:   ifc.Name,
			InviteKey: key,
			Config: model.InterfaceConfig{
				Name:       ifc.Name,
				PrivateKey: id.PrivateKey.String(),
				Addrs:      addrs,
				ListenPort: copyPtr(ifc.ListenPort),
				MTU:        copyPtr(ifc.MTU),
				Peers:      map[string]model.PeerConfig{},
			},
			UpdatedAt: now,
		})
	}

	boot, rec, err := c.bootstrap(key, req.BootstrapAddr, now)
	if err != nil {
		return InviteResponse{}, err
	}
	for _, m := range members {
		rec.Members = append(rec.Members, m.PublicKey)
		if err := c.store.PutMember(m); err != nil {
			return InviteResponse{}, err
		}
	}
	if err := c.store.PutInvite(rec); err != nil {
		return InviteResponse{}, err
	}
	encoded, err := config.Invite{IfaceConfig: boot, ServerSocket: c.serverSocket, Key: key}.Encode()
	if err != nil {
		return InviteResponse{}, err
	}
	c.rebuildSelf()
	c.audit(actor, "invite_create", key, fmt.Sprintf("node=%s interfaces=%d", req.Node, len(members)))
	c.publish(Event{Type: EventInviteCreated, Node: req.Node, Payload: map[string]any{"key": key, "interfaces": len(members)}})
	c.log.Info("invite created", "key", key, "node", req.Node, "interfaces", len(members))
	return InviteResponse{Key: key, Invite: encoded}, nil
}

// bootstrap builds the throwaway interface a new node uses to reach the
// coordinator. With an own interface it peers with it over bootAddr.
func (c *Coordinator) bootstrap(key, bootAddr string, now time.Time) (model.InterfaceConfig, model.InviteRecord, error) {
	id, err := model.NewIdentity()
	if err != nil {
		return model.InterfaceConfig{}, model.InviteRecord{}, err
	}
	boot := model.InterfaceConfig{
		Name:       BootstrapIface,
		PrivateKey: id.PrivateKey.String(),
		Peers:      map[string]model.PeerConfig{},
	}
	rec := model.InviteRecord{Key: key, BootstrapPublicKey: id.PublicKey.String(), CreatedAt: now}
	if bootAddr == "" {
		return boot, rec, nil
	}
	if c.self == nil {
		return model.InterfaceConfig{}, model.InviteRecord{}, badRequest("bootstrap_addr needs a coordinator interface")
	}
	p, err := netip.ParsePrefix(bootAddr)
	if err != nil {
		return model.InterfaceConfig{}, model.InviteRecord{}, badRequest(fmt.Sprintf("bootstrap_addr: %v", err))
	}
	self := c.self.Desired()
	boot.Addrs = []netip.Prefix{p}
	boot.Peers = topology.BuildPeers(rec.BootstrapPublicKey, []topology.Node{c.selfNode(self)})
	rec.BootstrapAddr = p
	return boot, rec, nil
}

// RedeemInvite activates the invite's members once and returns their
// configurations with peers derived from the current mesh.
func (c *Coordinator) RedeemInvite(_ context.Context, key string) ([]model.InterfaceConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.store.RedeemInvite(key, c.now())
	if err != nil {
		return nil, err
	}
	var activated []model.Member
	for _, pub := range rec.Members {
		m, ok, err := c.store.GetMember(pub)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("invite %s: member %s: %w", key, pub, errs.ErrUnknownMember)
		}
		m.Active = true
		m.UpdatedAt = c.now()
		if err := c.store.PutMember(m); err != nil {
			return nil, err
		}
		activated = append(activated, m)
	}
	all, err := c.store.ListMembers()
	if err != nil {
		return nil, err
	}
	out := make([]model.InterfaceConfig, 0, len(activated))
	for _, m := range activated {
		out = append(out, m.Config.WithPeers(c.peersFor(m, all)))
	}
	c.rebuildSelf()
	c.audit("node", "invite_redeem", key, fmt.Sprintf("interfaces=%d", len(out)))
	node := ""
	if len(activated) > 0 {
		node = activated[0].Node
	}
	c.publish(Event{Type: EventInviteRedeemed, Node: node, Payload: map[string]any{"key": key, "interfaces": len(out)}})
	c.log.Info("invite redeemed", "key", key, "node", node, "interfaces", len(out))
	return out, nil
}

// PostEndpoint records the endpoints a member can be reached at. An
// unknown key is answered with false rather than an error.
func (c *Coordinator) PostEndpoint(_ context.Context, key string, internal, external *netip.AddrPort) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.member(key)
	if errors.Is(err, errs.ErrUnknownMember) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.Config.InternalEndpoint = copyPtr(internal)
	m.Config.ExternalEndpoint = copyPtr(external)
	m.UpdatedAt = c.now()
	if err := c.store.PutMember(m); err != nil {
		return false, err
	}
	c.rebuildSelf()
	c.publish(Event{Type: EventEndpointUpdated, Node: m.Node, Payload: map[string]any{"network": m.Network, "endpoint": endpointText(m.Endpoint())}})
	c.log.Debug("endpoint updated", "member", m.PublicKey, "network", m.Network)
	return true, nil
}

// GetPeers returns the member's current peer set in public key order.
func (c *Coordinator) GetPeers(_ context.Context, key string) ([]model.PeerConfig, error) {
	m, err := c.member(key)
	if err != nil {
		return nil, err
	}
	all, err := c.store.ListMembers()
	if err != nil {
		return nil, err
	}
	peers := c.peersFor(m, all)
	out := make([]model.PeerConfig, 0, len(peers))
	for _, p := range peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicKey < out[j].PublicKey })
	return out, nil
}

// Members lists members with private keys removed.
func (c *Coordinator) Members() ([]model.Member, error) {
	list, err := c.store.ListMembers()
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Config.PrivateKey = ""
	}
	return list, nil
}

func (c *Coordinator) Audit(limit int) ([]model.AuditEntry, error) {
	return c.store.ListAudit(limit)
}

func (c *Coordinator) Ready() error { return c.store.Ping() }

// member resolves an interface private key to its active member record.
func (c *Coordinator) member(key string) (model.Member, error) {
	id, err := model.IdentityFromKey(key)
	if err != nil {
		return model.Member{}, errs.ErrUnknownMember
	}
	m, ok, err := c.store.GetMember(id.PublicKey.String())
	if err != nil {
		return model.Member{}, err
	}
	if !ok || !m.Active {
		return model.Member{}, errs.ErrUnknownMember
	}
	return m, nil
}

func (c *Coordinator) peersFor(m model.Member, all []model.Member) map[string]model.PeerConfig {
	var nodes []topology.Node
	for _, other := range topology.Network(m.Network, all) {
		nodes = append(nodes, topology.FromMember(other))
	}
	if c.self != nil {
		if self := c.self.Desired(); self.Name == m.Network {
			nodes = append(nodes, c.selfNode(self))
		}
	}
	return topology.BuildPeers(m.PublicKey, nodes)
}

func (c *Coordinator) selfNode(self model.InterfaceConfig) topology.Node {
	n := topology.Node{PublicKey: c.selfPub, Addrs: self.Addrs, Endpoint: self.ExternalEndpoint}
	if n.Endpoint == nil {
		n.Endpoint = self.InternalEndpoint
	}
	return n
}

// rebuildSelf replaces the own interface's peers with the active members
// of its network plus every bootstrap identity still waiting to redeem.
// It reports whether the interface was reapplied. Callers hold mu.
func (c *Coordinator) rebuildSelf() bool {
	if c.self == nil {
		return false
	}
	cfg := c.self.Desired()
	all, err := c.store.ListMembers()
	if err != nil {
		c.log.Error("list members for own interface", "err", err)
		return false
	}
	invites, err := c.store.ListInvites()
	if err != nil {
		c.log.Error("list invites for own interface", "err", err)
		return false
	}
	var nodes []topology.Node
	for _, m := range topology.Network(cfg.Name, all) {
		nodes = append(nodes, topology.FromMember(m))
	}
	for _, inv := range invites {
		if inv.Redeemed || !inv.BootstrapAddr.IsValid() {
			continue
		}
		nodes = append(nodes, topology.Node{PublicKey: inv.BootstrapPublicKey, Addrs: []netip.Prefix{inv.BootstrapAddr}})
	}
	if !c.self.Replace(cfg.WithPeers(topology.BuildPeers(c.selfPub, nodes))) {
		return false
	}
	if err := c.self.Up(); err != nil {
		c.log.Error("coordinator interface up failed", "iface", cfg.Name, "stage", errs.Stage(err), "err", err)
		return true
	}
	c.log.Info("coordinator interface peers updated", "iface", cfg.Name, "peers", len(nodes))
	return true
}

func (c *Coordinator) audit(actor, action, target, detail string) {
	if err := c.store.AppendAudit(model.AuditEntry{Actor: actor, Action: action, Target: target, Detail: detail, Timestamp: c.now()}); err != nil {
		c.log.Warn("audit append failed", "action", action, "err", err)
	}
}

func (c *Coordinator) publish(e Event) {
	if c.hub != nil {
		c.hub.Publish(e)
	}
}

func badRequest(msg string) error {
	return &errs.ConfigError{Source: "request", Err: errors.New(msg)}
}
