// Package gate is the HTTP entry point clients use before opening a chat
// session: it registers accounts, checks credentials and hands out a chat
// server and token.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/rpc"
	"github.com/Jam-Ngai/chatserver/internal/store"
)

type Accounts interface {
	CheckPassword(ctx context.Context, email, passwd string) (*store.User, error)
	CreateUser(ctx context.Context, name, email, passwd string) (int, error)
}

// Codes looks up the verification code mailed to an address.
type Codes interface {
	VerifyCode(ctx context.Context, email string) (string, bool, error)
}

type Assigner interface {
	GetChatServer(ctx context.Context, req *rpc.GetChatServerRequest) (*rpc.GetChatServerResponse, error)
}

type Handler struct {
	users  Accounts
	status Assigner
	codes  Codes
	logger *slog.Logger
}

func NewHandler(users Accounts, status Assigner, codes Codes, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{users: users, status: status, codes: codes, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.logRequest(handler))
	}
	mux.HandleFunc("POST /user_register", wrap(h.userRegister))
	mux.HandleFunc("POST /user_login", wrap(h.userLogin))
	mux.HandleFunc("GET /healthz", h.healthz)
	return mux
}

type loginRequest struct {
	Email  string `json:"email"`
	Passwd string `json:"passwd"`
}

type loginResponse struct {
	Error int    `json:"error"`
	Email string `json:"email,omitempty"`
	UID   int    `json:"uid,omitempty"`
	Token string `json:"token,omitempty"`
	Host  string `json:"host,omitempty"`
	Port  string `json:"port,omitempty"`
}

// userLogin always answers 200; failures are reported in the error field.
func (h *Handler) userLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		h.jsonResponse(w, loginResponse{Error: rpc.ErrCodeJSON}, http.StatusOK)
		return
	}

	user, err := h.users.CheckPassword(r.Context(), req.Email, req.Passwd)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrPasswordMismatch):
		h.jsonResponse(w, loginResponse{Error: rpc.ErrCodePasswd}, http.StatusOK)
		return
	case err != nil:
		h.logger.Error("password check failed", "email", req.Email, "error", err)
		h.jsonResponse(w, loginResponse{Error: rpc.ErrCodeRPCFailed}, http.StatusOK)
		return
	}

	rsp, err := h.status.GetChatServer(r.Context(), &rpc.GetChatServerRequest{UID: user.UID})
	if err != nil {
		h.logger.Error("status service call failed", "uid", user.UID, "error", err)
		h.jsonResponse(w, loginResponse{Error: rpc.ErrCodeRPCFailed}, http.StatusOK)
		return
	}
	if rsp.Error != rpc.ErrCodeSuccess {
		h.jsonResponse(w, loginResponse{Error: rsp.Error}, http.StatusOK)
		return
	}

	h.jsonResponse(w, loginResponse{
		Error: rpc.ErrCodeSuccess,
		Email: user.Email,
		UID:   user.UID,
		Token: rsp.Token,
		Host:  rsp.Host,
		Port:  rsp.Port,
	}, http.StatusOK)
}

type registerRequest struct {
	Name       string `json:"user"`
	Email      string `json:"email"`
	Passwd     string `json:"passwd"`
	Confirm    string `json:"confirm"`
	VerifyCode string `json:"verifycode"`
}

type registerResponse struct {
	Error int    `json:"error"`
	UID   int    `json:"uid,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"user,omitempty"`
}

// userRegister creates an account once the address proved ownership with
// the code stored under code_<email>. Like login it always answers 200.
func (h *Handler) userRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil ||
		req.Name == "" || req.Email == "" || req.Passwd == "" {
		h.jsonResponse(w, registerResponse{Error: rpc.ErrCodeJSON}, http.StatusOK)
		return
	}
	if req.Passwd != req.Confirm {
		h.jsonResponse(w, registerResponse{Error: rpc.ErrCodePasswd}, http.StatusOK)
		return
	}

	code, ok, err := h.codes.VerifyCode(r.Context(), req.Email)
	switch {
	case err != nil:
		h.logger.Error("verify code lookup failed", "email", req.Email, "error", err)
		h.jsonResponse(w, registerResponse{Error: rpc.ErrCodeRPCFailed}, http.StatusOK)
		return
	case !ok:
		h.jsonResponse(w, registerResponse{Error: rpc.ErrCodeVerifyExpire}, http.StatusOK)
		return
	case code != req.VerifyCode:
		h.jsonResponse(w, registerResponse{Error: rpc.ErrCodeVerifyCode}, http.StatusOK)
		return
	}

	uid, err := h.users.CreateUser(r.Context(), req.Name, req.Email, req.Passwd)
	switch {
	case errors.Is(err, store.ErrUserExists):
		h.jsonResponse(w, registerResponse{Error: rpc.ErrCodeUserExist}, http.StatusOK)
		return
	case err != nil:
		h.logger.Error("create user failed", "email", req.Email, "error", err)
		h.jsonResponse(w, registerResponse{Error: rpc.ErrCodeRPCFailed}, http.StatusOK)
		return
	}

	h.logger.Info("user registered", "uid", uid, "email", req.Email)
	h.jsonResponse(w, registerResponse{
		Error: rpc.ErrCodeSuccess,
		UID:   uid,
		Email: req.Email,
		Name:  req.Name,
	}, http.StatusOK)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "ok",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

func (h *Handler) logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	}
}

func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic serving request", "error", err, "path", r.URL.Path)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}
