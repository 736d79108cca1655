package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dacut/hpc-lab-maker/identity"
	"github.com/dacut/hpc-lab-maker/instances"
	"github.com/dacut/hpc-lab-maker/interfaces"
	"github.com/dacut/hpc-lab-maker/session"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

var (
	errMissingFields = errors.New("missing form fields")
	errUnknownEvent  = errors.New("unknown event code")
	errInvalidBody   = errors.New("invalid request body")
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error

	// Problems lists individual validation failures, if any.
	Problems []string
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Identity is the account service behind the portal.
type Identity interface {
	Login(ctx context.Context, email, password, eventID string) (*interfaces.User, error)
	Register(ctx context.Context, req identity.RegisterRequest) (*interfaces.User, error)
	GetUser(ctx context.Context, email, eventID string) (*interfaces.User, error)
	ValidEvent(ctx context.Context, eventID string) (bool, error)
}

// Instances is the lifecycle controller behind the ec2 routes.
type Instances interface {
	Do(ctx context.Context, user *interfaces.User, action string) error
	Status(ctx context.Context, user *interfaces.User) (*interfaces.InstanceStatus, error)
	Screenshot(ctx context.Context, user *interfaces.User) ([]byte, error)
}

// Handler processes portal requests. Handlers behind RequireSession take
// the already re-validated user from the request context.
type Handler struct {
	identity  Identity
	instances Instances
	sessions  *session.Manager
	log       *slog.Logger
}

// NewHandler creates a portal handler.
func NewHandler(ident Identity, lifecycle Instances, sessions *session.Manager, log *slog.Logger) *Handler {
	return &Handler{
		identity:  ident,
		instances: lifecycle,
		sessions:  sessions,
		log:       log,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	EventID  string `json:"event_id"`
}

type sessionResponse struct {
	User      *interfaces.User `json:"user"`
	CSRFToken string           `json:"csrf_token"`
}

type dashboardResponse struct {
	User     *interfaces.User           `json:"user"`
	Instance *interfaces.InstanceStatus `json:"instance"`
}

type actionRequest struct {
	Action string `json:"action"`
}

type actionResponse struct {
	Action     string `json:"action"`
	InstanceID string `json:"instance_id,omitempty"`
}

// HandleLogin authenticates a user and starts a session.
//
// URL format: POST /api/login
// Request body: {"email", "password", "event_id"}
// Response: {"user", "csrf_token"} and the session cookie.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	user, err := h.login(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.startSession(w, http.StatusOK, user)
}

func (h *Handler) login(ctx context.Context, req loginRequest) (*interfaces.User, error) {
	if req.Email == "" || req.Password == "" || req.EventID == "" {
		return nil, &RequestError{StatusCode: http.StatusBadRequest, Err: errMissingFields}
	}

	valid, err := h.identity.ValidEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, &RequestError{StatusCode: http.StatusUnauthorized, Err: identity.ErrNoMatch}
	}

	user, err := h.identity.Login(ctx, req.Email, req.Password, req.EventID)
	if errors.Is(err, identity.ErrNoMatch) {
		return nil, &RequestError{StatusCode: http.StatusUnauthorized, Err: identity.ErrNoMatch}
	}
	return user, err
}

// HandleRegister creates an account and starts a session.
//
// URL format: POST /api/register
// Request body: identity.RegisterRequest
// Response: 201 {"user", "csrf_token"} and the session cookie. Validation
// failures return 400 with a "problems" list.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	user, err := h.register(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.startSession(w, http.StatusCreated, user)
}

func (h *Handler) register(ctx context.Context, req identity.RegisterRequest) (*interfaces.User, error) {
	var verr *identity.ValidationError
	if err := identity.ValidateRegistration(req); errors.As(err, &verr) {
		return nil, &RequestError{StatusCode: http.StatusBadRequest, Err: err, Problems: verr.Problems}
	}

	valid, err := h.identity.ValidEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, &RequestError{StatusCode: http.StatusBadRequest, Err: errUnknownEvent}
	}

	user, err := h.identity.Register(ctx, req)
	if errors.Is(err, identity.ErrAlreadyExists) {
		return nil, &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	return user, err
}

func (h *Handler) startSession(w http.ResponseWriter, status int, user *interfaces.User) {
	csrf, err := h.sessions.Issue(w, user.Email, user.EventID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, status, sessionResponse{User: user, CSRFToken: csrf})
}

// HandleLogout clears the session cookie. It succeeds without a session.
//
// URL format: POST /api/logout
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleDashboard returns the session user and the status of their
// instance. Reading the status clears an instance that has gone away.
//
// URL format: GET /api/dashboard
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	user := session.UserFromContext(r.Context())

	status, err := h.instances.Status(r.Context(), user)
	if err != nil {
		h.writeError(w, providerError(err))
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{User: user, Instance: status})
}

// HandleInstanceAction applies a lifecycle action to the user's instance.
//
// URL format: POST /api/ec2
// Request body: {"action": "Launch"|"Terminate"|"Start"|"Stop"|"Reboot"}
// Required headers: X-CSRF-Token
func (h *Handler) HandleInstanceAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	user := session.UserFromContext(r.Context())
	if err := h.instances.Do(r.Context(), user, req.Action); err != nil {
		h.writeError(w, providerError(err))
		return
	}

	writeJSON(w, http.StatusAccepted, actionResponse{Action: req.Action, InstanceID: user.InstanceID})
}

// HandleScreenshot returns a JPEG of the instance console.
//
// URL format: GET /api/ec2/screenshot
func (h *Handler) HandleScreenshot(w http.ResponseWriter, r *http.Request) {
	img, err := h.instances.Screenshot(r.Context(), session.UserFromContext(r.Context()))
	if err != nil {
		h.writeError(w, providerError(err))
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=30")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// HandleSSHKey downloads the user's generated private key.
//
// URL format: GET /api/ssh-key
func (h *Handler) HandleSSHKey(w http.ResponseWriter, r *http.Request) {
	user := session.UserFromContext(r.Context())

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", user.EventID+"-private.pem"))
	w.Header().Set("Cache-Control", "private")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, user.SSHPrivateKey)
}

// providerError assigns status codes to lifecycle errors. Provider
// failures keep their message.
func providerError(err error) error {
	switch {
	case errors.Is(err, instances.ErrUnknownAction):
		return &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	case errors.Is(err, instances.ErrNoInstance):
		return &RequestError{StatusCode: http.StatusNotFound, Err: err}
	case errors.Is(err, instances.ErrInstanceAssigned):
		return &RequestError{StatusCode: http.StatusConflict, Err: err}
	case errors.Is(err, instances.ErrEventNotProvisionable):
		return &RequestError{StatusCode: http.StatusConflict, Err: err}
	}
	return &RequestError{StatusCode: http.StatusBadGateway, Err: err}
}

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("failed to read request body: %w", err)}
	}
	if len(body) > maxBodySize {
		return &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: errors.New("request body too large")}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &RequestError{StatusCode: http.StatusBadRequest, Err: errInvalidBody}
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeRequestError(w, h.log, err)
}

func writeRequestError(w http.ResponseWriter, log *slog.Logger, err error) {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		log.Error("Request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	if reqErr.StatusCode >= http.StatusInternalServerError {
		log.Error("Request failed", slog.Int("status", reqErr.StatusCode), "err", reqErr.Err)
	}

	body := map[string]interface{}{"error": reqErr.Error()}
	if len(reqErr.Problems) > 0 {
		body["problems"] = reqErr.Problems
	}
	writeJSON(w, reqErr.StatusCode, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
