package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"wgnet/pkg/auth"
	"wgnet/pkg/errs"
	"wgnet/pkg/version"
)

const maxBody = 1 << 20

// Server exposes a Coordinator over HTTP.
type Server struct {
	Coord      *Coordinator
	Hub        *Hub
	AdminToken string
	Issuer     *auth.Issuer
	Users      Users
	Log        *slog.Logger
}

// RegisterRoutes wires the HTTP handlers on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	admin := authFunc(s.AdminToken, s.Issuer)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("wgnet coordinator"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := s.Coord.Ready(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.Current())
	})

	mux.HandleFunc(PathPing, func(w http.ResponseWriter, r *http.Request) {
		var req PingRequest
		if !decodeRPC(w, r, &req) {
			return
		}
		writeJSON(w, http.StatusOK, PingResponse{Msg: s.Coord.Ping(r.RemoteAddr, req.Msg)})
	})

	mux.HandleFunc(PathRedeemInvite, func(w http.ResponseWriter, r *http.Request) {
		var req RedeemInviteRequest
		if !decodeRPC(w, r, &req) {
			return
		}
		cfgs, err := s.Coord.RedeemInvite(r.Context(), req.Key)
		if err != nil {
			writeFailure(w, log, "redeem_invite", err)
			return
		}
		resp := RedeemInviteResponse{IfaceConfig: make([]InterfaceConfigRecord, 0, len(cfgs))}
		for _, c := range cfgs {
			resp.IfaceConfig = append(resp.IfaceConfig, EncodeInterface(c))
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc(PathPostEndpoint, func(w http.ResponseWriter, r *http.Request) {
		var req PostEndpointRequest
		if !decodeRPC(w, r, &req) {
			return
		}
		internal, err := parseEndpoint(req.InternalEndpoint)
		if err != nil {
			writeError(w, http.StatusBadRequest, "internal_endpoint: "+err.Error())
			return
		}
		external, err := parseEndpoint(req.ExternalEndpoint)
		if err != nil {
			writeError(w, http.StatusBadRequest, "external_endpoint: "+err.Error())
			return
		}
		ok, err := s.Coord.PostEndpoint(r.Context(), req.Key, internal, external)
		if err != nil {
			writeFailure(w, log, "post_endpoint", err)
			return
		}
		writeJSON(w, http.StatusOK, PostEndpointResponse{OK: ok})
	})

	mux.HandleFunc(PathGetPeers, func(w http.ResponseWriter, r *http.Request) {
		var req GetPeersRequest
		if !decodeRPC(w, r, &req) {
			return
		}
		peers, err := s.Coord.GetPeers(r.Context(), req.Key)
		if err != nil {
			writeFailure(w, log, "get_peers", err)
			return
		}
		resp := GetPeersResponse{Peers: make([]PeerConfigRecord, 0, len(peers))}
		for _, p := range peers {
			resp.Peers = append(resp.Peers, EncodePeer(p))
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/api/v1/invites", func(w http.ResponseWriter, r *http.Request) {
		if !admin(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req InviteRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		resp, err := s.Coord.CreateInvite(r.Context(), actor(r, s.Issuer), req)
		if err != nil {
			writeFailure(w, log, "create_invite", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/api/v1/members", func(w http.ResponseWriter, r *http.Request) {
		if !admin(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		members, err := s.Coord.Members()
		if err != nil {
			writeFailure(w, log, "list_members", err)
			return
		}
		writeJSON(w, http.StatusOK, members)
	})

	mux.HandleFunc("/api/v1/audit", func(w http.ResponseWriter, r *http.Request) {
		if !admin(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		entries, err := s.Coord.Audit(limit)
		if err != nil {
			writeFailure(w, log, "list_audit", err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	if s.Hub != nil {
		mux.HandleFunc("/api/v1/ws/agent", s.Hub.HandleAgent)
		mux.HandleFunc("/api/v1/ws/events", AuthMiddleware(s.Hub.HandleEvents, s.AdminToken, s.Issuer))
	}
	if s.Users != nil && s.Issuer != nil {
		(&AuthHandler{Users: s.Users, Issuer: s.Issuer}).RegisterRoutes(mux)
	}
}

// decodeRPC reads a POSTed JSON request. It answers the failure itself.
func decodeRPC(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

// statusOf maps a coordinator error to an HTTP status.
func statusOf(err error) int {
	var cfgErr *errs.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrInviteNotFound), errors.Is(err, errs.ErrUnknownMember):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInviteRedeemed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, log *slog.Logger, call string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "call", call, "err", err)
	} else {
		log.Debug("request rejected", "call", call, "status", status, "err", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}

// actor names the caller for the audit log.
func actor(r *http.Request, issuer *auth.Issuer) string {
	if issuer != nil {
		if authz := r.Header.Get("Authorization"); len(authz) > 7 {
			if c, err := issuer.Parse(authz[7:]); err == nil {
				return c.Username
			}
		}
	}
	return "admin"
}
