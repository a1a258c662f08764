package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"wgnet/pkg/auth"
	"wgnet/pkg/model"
)

const tokenTTL = 24 * time.Hour

// Users is the admin account store.
type Users interface {
	Count() (int64, error)
	Create(*model.User) error
	Find(username string) (model.User, bool, error)
}

// AuthHandler issues admin tokens. Only the first account may register.
type AuthHandler struct {
	Users  Users
	Issuer *auth.Issuer
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (a *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/auth/register", a.handleRegister)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
}

func (a *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := decodeAuth(w, r)
	if !ok {
		return
	}
	count, err := a.Users.Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count users")
		return
	}
	if count > 0 {
		writeError(w, http.StatusForbidden, "registration closed")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	user := model.User{Username: req.Username, PasswordHash: string(hash)}
	if err := a.Users.Create(&user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	a.issue(w, user)
}

func (a *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := decodeAuth(w, r)
	if !ok {
		return
	}
	user, found, err := a.Users.Find(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up user")
		return
	}
	if !found || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	a.issue(w, user)
}

func (a *AuthHandler) issue(w http.ResponseWriter, user model.User) {
	token, err := a.Issuer.Generate(user.ID, user.Username, tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func decodeAuth(w http.ResponseWriter, r *http.Request) (authRequest, bool) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return authRequest{}, false
	}
	return req, true
}

// authFunc accepts the static admin token or a token signed by issuer.
// With neither configured every request passes.
func authFunc(token string, issuer *auth.Issuer) func(r *http.Request) bool {
	if token == "" && issuer == nil {
		return func(_ *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		h := r.Header.Get("X-Auth-Token")
		if h == "" {
			if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
				h = strings.TrimPrefix(authz, "Bearer ")
			}
		}
		if h == "" {
			return false
		}
		if token != "" && h == token {
			return true
		}
		if issuer != nil {
			_, err := issuer.Parse(h)
			return err == nil
		}
		return false
	}
}

// AuthMiddleware guards next with authFunc.
func AuthMiddleware(next http.HandlerFunc, token string, issuer *auth.Issuer) http.HandlerFunc {
	ok := authFunc(token, issuer)
	return func(w http.ResponseWriter, r *http.Request) {
		if !ok(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
