// Package backendmock is an in-memory fake of the family backend.
//
// It serves the auth-login, auth-register, bind-device and device-heartbeat
// endpoints with the same wire format as the real deployment, binds devices
// idempotently by fingerprint, and lets tests inject failures per endpoint.
// It is used by the package tests and by cmd/mockbackend for local runs.
package backendmock

import (
	"crypto/sha256"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/guardian-os/device-provisioning/api"
	"go.uber.org/atomic"
)

// FunctionsPrefix is the path the endpoints are mounted under, matching api.NewBackendConfig.
const FunctionsPrefix = "/functions/v1"

// Endpoint names a backend function.
type Endpoint string

const (
	EndpointAuthLogin    Endpoint = "auth-login"
	EndpointAuthRegister Endpoint = "auth-register"
	EndpointBindDevice   Endpoint = "bind-device"
	EndpointHeartbeat    Endpoint = "device-heartbeat"
)

// Fault replaces the response of an endpoint until cleared.
// A positive Delay holds the request before answering, or until the client gives up.
type Fault struct {
	Status int
	Body   string
	Delay  time.Duration
}

// Device is a binding held by the backend.
type Device struct {
	Fingerprint   string
	ParentEmail   string
	DeviceJWT     string
	DeviceCode    string
	LastHeartbeat time.Time
}

type parent struct {
	id       string
	password string
}

// Backend holds accounts, sessions and device bindings in memory.
type Backend struct {
	log *slog.Logger

	mu       sync.Mutex
	parents  map[string]parent
	sessions map[string]string
	devices  map[string]*Device
	byJWT    map[string]*Device
	faults   map[Endpoint]Fault

	authRequests      atomic.Int64
	claimRequests     atomic.Int64
	heartbeatRequests atomic.Int64
}

// New creates an empty backend.
func New(log *slog.Logger) *Backend {
	return &Backend{
		log:      log,
		parents:  make(map[string]parent),
		sessions: make(map[string]string),
		devices:  make(map[string]*Device),
		byJWT:    make(map[string]*Device),
		faults:   make(map[Endpoint]Fault),
	}
}

// AddParent creates a parent account.
func (b *Backend) AddParent(email, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parents[strings.ToLower(email)] = parent{id: uuid.NewString(), password: password}
}

// IssueToken creates a session for an existing or new parent without going through auth.
func (b *Backend) IssueToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	token := uuid.NewString()
	b.sessions[token] = strings.ToLower(email)
	return token
}

// SetFault makes endpoint answer with fault until ClearFault is called.
func (b *Backend) SetFault(endpoint Endpoint, fault Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[endpoint] = fault
}

// ClearFault restores the normal behaviour of endpoint.
func (b *Backend) ClearFault(endpoint Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.faults, endpoint)
}

// Device returns the binding of fingerprint, if any.
func (b *Backend) Device(fingerprint string) (Device, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, ok := b.devices[fingerprint]
	if !ok {
		return Device{}, false
	}
	return *device, true
}

// DeviceCount returns the number of bound devices.
func (b *Backend) DeviceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.devices)
}

// AuthRequests returns how many auth requests were received.
func (b *Backend) AuthRequests() int64 { return b.authRequests.Load() }

// ClaimRequests returns how many bind-device requests were received.
func (b *Backend) ClaimRequests() int64 { return b.claimRequests.Load() }

// HeartbeatRequests returns how many heartbeats were received.
func (b *Backend) HeartbeatRequests() int64 { return b.heartbeatRequests.Load() }

// Routes mounts the backend functions on r.
func (b *Backend) Routes(r chi.Router) {
	r.Route(FunctionsPrefix, func(r chi.Router) {
		r.Post("/"+string(EndpointAuthLogin), b.HandleAuthLogin)
		r.Post("/"+string(EndpointAuthRegister), b.HandleAuthRegister)
		r.Post("/"+string(EndpointBindDevice), b.HandleBindDevice)
		r.Post("/"+string(EndpointHeartbeat), b.HandleHeartbeat)
	})
}

// Router returns a standalone router serving the backend, for httptest servers.
func (b *Backend) Router() http.Handler {
	mux := chi.NewRouter()
	b.Routes(mux)
	return mux
}

// HandleAuthLogin exchanges valid credentials for an access token.
func (b *Backend) HandleAuthLogin(w http.ResponseWriter, r *http.Request) {
	b.authRequests.Inc()
	if b.applyFault(w, r, EndpointAuthLogin) {
		return
	}

	var req api.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid_request", ErrorDescription: "Email and password are required"})
		return
	}

	b.mu.Lock()
	account, ok := b.parents[strings.ToLower(req.Email)]
	if !ok || account.password != req.Password {
		b.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid_grant", ErrorDescription: "Invalid login credentials"})
		return
	}
	token := uuid.NewString()
	b.sessions[token] = strings.ToLower(req.Email)
	b.mu.Unlock()

	b.log.Info("Parent logged in", slog.String("email", req.Email))
	writeJSON(w, http.StatusOK, api.AuthResponse{
		AccessToken: token,
		User:        &api.AuthUser{ID: account.id, Email: req.Email},
	})
}

// HandleAuthRegister creates an account and returns a parent token.
func (b *Backend) HandleAuthRegister(w http.ResponseWriter, r *http.Request) {
	b.authRequests.Inc()
	if b.applyFault(w, r, EndpointAuthRegister) {
		return
	}

	var req api.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid_request", ErrorDescription: "Email and password are required"})
		return
	}

	b.mu.Lock()
	email := strings.ToLower(req.Email)
	if _, exists := b.parents[email]; exists {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnprocessableEntity, api.ErrorResponse{Msg: "User already registered"})
		return
	}
	account := parent{id: uuid.NewString(), password: req.Password}
	b.parents[email] = account
	token := uuid.NewString()
	b.sessions[token] = email
	b.mu.Unlock()

	b.log.Info("Parent registered", slog.String("email", req.Email))
	writeJSON(w, http.StatusOK, api.AuthResponse{
		ParentAccessToken: token,
		User:              &api.AuthUser{ID: account.id, Email: req.Email},
	})
}

// HandleBindDevice binds a fingerprint to the parent owning the bearer token.
// Repeating the request for the same parent returns the original binding.
func (b *Backend) HandleBindDevice(w http.ResponseWriter, r *http.Request) {
	b.claimRequests.Inc()
	if b.applyFault(w, r, EndpointBindDevice) {
		return
	}

	b.mu.Lock()
	owner, ok := b.sessions[bearerToken(r)]
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "invalid token"})
		return
	}

	var req api.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceFingerprint == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "device_fingerprint is required"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if device, exists := b.devices[req.DeviceFingerprint]; exists {
		if device.ParentEmail != owner {
			writeJSON(w, http.StatusConflict, api.ErrorResponse{Error: "device already claimed"})
			return
		}
		writeJSON(w, http.StatusOK, api.ClaimResponse{DeviceJWT: device.DeviceJWT, DeviceCode: device.DeviceCode})
		return
	}

	device := &Device{
		Fingerprint: req.DeviceFingerprint,
		ParentEmail: owner,
		DeviceJWT:   "device." + uuid.NewString(),
		DeviceCode:  deviceCode(req.DeviceFingerprint),
	}
	b.devices[device.Fingerprint] = device
	b.byJWT[device.DeviceJWT] = device

	b.log.Info("Device bound", slog.String("device_code", device.DeviceCode), slog.String("email", owner))
	writeJSON(w, http.StatusOK, api.ClaimResponse{DeviceJWT: device.DeviceJWT, DeviceCode: device.DeviceCode})
}

// HandleHeartbeat records liveness of a device authenticated by its credential.
func (b *Backend) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	b.heartbeatRequests.Inc()
	if b.applyFault(w, r, EndpointHeartbeat) {
		return
	}

	b.mu.Lock()
	device, ok := b.byJWT[bearerToken(r)]
	if ok {
		device.LastHeartbeat = time.Now()
	}
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "invalid device token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (b *Backend) applyFault(w http.ResponseWriter, r *http.Request, endpoint Endpoint) bool {
	b.mu.Lock()
	fault, ok := b.faults[endpoint]
	b.mu.Unlock()
	if !ok {
		return false
	}

	if fault.Delay > 0 {
		select {
		case <-time.After(fault.Delay):
		case <-r.Context().Done():
			return true
		}
	}

	status := fault.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(fault.Body))
	return true
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// deviceCode derives a short human-readable code such as "KQX-481" from a fingerprint.
func deviceCode(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	code := make([]byte, 0, 7)
	for _, v := range sum[:3] {
		code = append(code, 'A'+v%26)
	}
	code = append(code, '-')
	for _, v := range sum[3:6] {
		code = append(code, '0'+v%10)
	}
	return string(code)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
