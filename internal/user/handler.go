package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-music-auth/internal/credential"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/session"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/user/entity"
)

// Handler exposes HTTP endpoints for user operations (register / login / CRUD).
type Handler struct {
	svc     *UserService
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, logger: logger, metrics: m}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse carries the new user id.
type RegisterResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// LoginResponse carries the bearer token.
type LoginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// UpdateRequest fields are optional; absent fields are left unchanged.
type UpdateRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

// UserResponse wraps the public view of a changed user.
type UserResponse struct {
	Message string            `json:"message"`
	User    entity.PublicView `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

const msgInvalidCredentials = "invalid email or password"

// maxBodyBytes caps request payloads; credentials and profile edits are tiny.
const maxBodyBytes = 64 << 10

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		h.metrics.Register(metrics.OutcomeInvalidInput)
		h.writeJSON(w, payloadStatus(err), messageResponse{"invalid payload"})
		return
	}
	u, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.metrics.Register(metrics.OutcomeInvalidInput)
			h.writeJSON(w, http.StatusBadRequest, messageResponse{err.Error()})
		case errors.Is(err, ErrDuplicateIdentity):
			h.metrics.Register(metrics.OutcomeDuplicate)
			h.writeJSON(w, http.StatusBadRequest, messageResponse{ErrDuplicateIdentity.Error()})
		default:
			h.metrics.Register(metrics.OutcomeError)
			h.serverError(w, "register failed", err)
		}
		return
	}
	h.metrics.Register(metrics.OutcomeSuccess)
	h.logger.Infow("user registered", "user_id", u.ID)
	h.writeJSON(w, http.StatusCreated, RegisterResponse{Message: "user registered", ID: u.ID})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.metrics.Login(metrics.OutcomeInvalidInput)
		h.writeJSON(w, payloadStatus(err), messageResponse{"invalid payload"})
		return
	}
	token, u, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		// unknown user and bad password share one message
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.metrics.Login(metrics.OutcomeInvalidInput)
			h.writeJSON(w, http.StatusBadRequest, messageResponse{err.Error()})
		case errors.Is(err, ErrUnknownIdentity):
			h.metrics.Login(metrics.OutcomeUnknownUser)
			h.writeJSON(w, http.StatusNotFound, messageResponse{msgInvalidCredentials})
		case errors.Is(err, ErrBadPassword):
			h.metrics.Login(metrics.OutcomeBadPassword)
			h.writeJSON(w, http.StatusUnauthorized, messageResponse{msgInvalidCredentials})
		default:
			h.metrics.Login(metrics.OutcomeError)
			h.serverError(w, "login failed", err)
		}
		return
	}
	h.metrics.Login(metrics.OutcomeSuccess)
	h.logger.Debugw("user logged in", "user_id", u.ID)
	h.writeJSON(w, http.StatusOK, LoginResponse{Message: "login successful", Token: token})
}

// Me returns the identity bound to the bearer token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sub, ok := session.SubjectFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, messageResponse{"unauthorized"})
		return
	}
	u, err := h.svc.Get(r.Context(), sub)
	if err != nil {
		// token outlived its user
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidID) {
			h.writeJSON(w, http.StatusUnauthorized, messageResponse{"unauthorized"})
			return
		}
		h.serverError(w, "load current user failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, u.Public())
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.List(r.Context())
	if err != nil {
		h.serverError(w, "list users failed", err)
		return
	}
	out := make([]entity.PublicView, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLookupError(w, "get user failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, u.Public())
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.logger.Debugw("invalid update payload", "err", err)
		h.writeJSON(w, payloadStatus(err), messageResponse{"invalid payload"})
		return
	}
	u, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.writeJSON(w, http.StatusBadRequest, messageResponse{err.Error()})
		case errors.Is(err, ErrDuplicateIdentity):
			h.writeJSON(w, http.StatusBadRequest, messageResponse{ErrDuplicateIdentity.Error()})
		default:
			h.writeLookupError(w, "update user failed", err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, UserResponse{Message: "user updated", User: u.Public()})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLookupError(w, "delete user failed", err)
		return
	}
	h.logger.Infow("user deleted", "user_id", u.ID)
	h.writeJSON(w, http.StatusOK, UserResponse{Message: "user deleted", User: u.Public()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func payloadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (h *Handler) writeLookupError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, ErrInvalidID):
		h.writeJSON(w, http.StatusBadRequest, messageResponse{ErrInvalidID.Error()})
	case errors.Is(err, ErrUserNotFound):
		h.writeJSON(w, http.StatusNotFound, messageResponse{ErrUserNotFound.Error()})
	default:
		h.serverError(w, msg, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, credential.ErrCryptoFailure) {
		h.logger.Errorw("crypto failure; process health degraded", "op", msg, "err", err)
	} else {
		h.logger.Warnw(msg, "err", err)
	}
	h.writeJSON(w, http.StatusInternalServerError, messageResponse{"internal server error"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
