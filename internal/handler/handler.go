package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Dan9191/user-service/internal/common"
	"github.com/Dan9191/user-service/internal/jobs"
	"github.com/Dan9191/user-service/internal/models"
	"github.com/Dan9191/user-service/internal/repository"
	"github.com/Dan9191/user-service/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler exposes the HTTP surface: user/address CRUD with conditional
// request caching and the export job endpoints.
type Handler struct {
	svc  *service.Service
	jobs *jobs.Manager
	log  *logrus.Logger
}

// NewHandler initializes a new handler
func NewHandler(svc *service.Service, jobManager *jobs.Manager, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, jobs: jobManager, log: log}
}

// Register wires all routes onto the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/", h.Root).Methods("GET")

	r.HandleFunc("/users", h.ListUsers).Methods("GET")
	r.HandleFunc("/users", h.CreateUser).Methods("POST")
	r.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	r.HandleFunc("/users/{id}", h.UpdateUser).Methods("PUT")
	r.HandleFunc("/users/{id}", h.DeleteUser).Methods("DELETE")
	r.HandleFunc("/users/{id}/export", h.ExportUser).Methods("POST")

	r.HandleFunc("/addresses", h.ListAddresses).Methods("GET")
	r.HandleFunc("/addresses", h.CreateAddress).Methods("POST")
	r.HandleFunc("/addresses/{id}", h.GetAddress).Methods("GET")
	r.HandleFunc("/addresses/{id}", h.UpdateAddress).Methods("PUT")
	r.HandleFunc("/addresses/{id}", h.DeleteAddress).Methods("DELETE")

	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
}

// ---- helpers ----

// etag wraps a fingerprint in the quoted form the ETag header requires.
func etag(fingerprint string) string {
	return `"` + fingerprint + `"`
}

// parseETag strips quoting and a weak-validator prefix from a client header,
// so the fingerprint round-trips exactly.
func parseETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			h.log.Errorf("Failed to encode response: %v", err)
		}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, common.ErrPreconditionFailed):
		status = http.StatusPreconditionFailed
	case errors.Is(err, common.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrInvalidReference):
		status = http.StatusUnprocessableEntity
	default:
		h.log.Errorf("Internal error: %v", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id", common.ErrValidation)
	}
	return id, nil
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

// listResponse is the pagination envelope for collection endpoints.
type listResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// addressResponse decorates an address with navigational links.
type addressResponse struct {
	*models.Address
	Links map[string]string `json:"links"`
}

func withLinks(a *models.Address) addressResponse {
	return addressResponse{
		Address: a,
		Links:   map[string]string{"user": "/users/" + a.UserID.String()},
	}
}

// ---- root ----

// Root is the liveness/welcome endpoint
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "User Service Running"})
}

// ---- users ----

// ListUsers handles GET /users with email/username filters and pagination
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	filter := repository.UserFilter{
		Email:    r.URL.Query().Get("email"),
		Username: r.URL.Query().Get("username"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	}
	// Normalize up front so the envelope reports the page size actually used.
	filter.Limit, filter.Offset = service.ClampPage(filter.Limit, filter.Offset)
	users, total, err := h.svc.ListUsers(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	h.writeJSON(w, http.StatusOK, listResponse{Items: users, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// CreateUser handles POST /users: direct registration or external-identity
// resolution. Returns 201 for a new user, 200 for an existing one resolved
// via external identity.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req service.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid JSON body", common.ErrValidation))
		return
	}

	user, created, err := h.svc.CreateUser(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("ETag", etag(user.Fingerprint))
	if created {
		w.Header().Set("Location", "/users/"+user.ID.String())
		h.writeJSON(w, http.StatusCreated, user)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

// GetUser handles GET /users/{id} with If-None-Match support
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	clientFingerprint := parseETag(r.Header.Get("If-None-Match"))
	user, notModified, err := h.svc.GetUser(r.Context(), id, clientFingerprint)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if notModified {
		w.Header().Set("ETag", etag(clientFingerprint))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag(user.Fingerprint))
	h.writeJSON(w, http.StatusOK, user)
}

// UpdateUser handles PUT /users/{id}; the If-Match header carries the
// precondition fingerprint.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	precondition := parseETag(r.Header.Get("If-Match"))
	if precondition == "" {
		h.writeError(w, fmt.Errorf("%w: If-Match header is required", common.ErrValidation))
		return
	}

	var patch service.UserPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid JSON body", common.ErrValidation))
		return
	}

	user, err := h.svc.UpdateUser(r.Context(), id, precondition, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("ETag", etag(user.Fingerprint))
	h.writeJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /users/{id}, cascading to owned addresses
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.DeleteUser(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportUser handles POST /users/{id}/export, returning 202 with a job
// handle immediately.
func (h *Handler) ExportUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	job, err := h.jobs.Submit(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"links":  map[string]string{"job": "/jobs/" + job.ID.String()},
	})
}

// ---- addresses ----

// ListAddresses handles GET /addresses with an optional user_id filter
func (h *Handler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	filter := repository.AddressFilter{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: invalid user_id", common.ErrValidation))
			return
		}
		filter.UserID = userID
	}
	filter.Limit, filter.Offset = service.ClampPage(filter.Limit, filter.Offset)

	addresses, total, err := h.svc.ListAddresses(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]addressResponse, 0, len(addresses))
	for _, a := range addresses {
		items = append(items, withLinks(a))
	}
	h.writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// CreateAddress handles POST /addresses; the owning user must exist.
func (h *Handler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid JSON body", common.ErrValidation))
		return
	}

	addr, err := h.svc.CreateAddress(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("ETag", etag(addr.Fingerprint))
	w.Header().Set("Location", "/addresses/"+addr.ID.String())
	h.writeJSON(w, http.StatusCreated, withLinks(addr))
}

// GetAddress handles GET /addresses/{id} with If-None-Match support
func (h *Handler) GetAddress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	clientFingerprint := parseETag(r.Header.Get("If-None-Match"))
	addr, notModified, err := h.svc.GetAddress(r.Context(), id, clientFingerprint)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if notModified {
		w.Header().Set("ETag", etag(clientFingerprint))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag(addr.Fingerprint))
	h.writeJSON(w, http.StatusOK, withLinks(addr))
}

// UpdateAddress handles PUT /addresses/{id} under an If-Match precondition
func (h *Handler) UpdateAddress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	precondition := parseETag(r.Header.Get("If-Match"))
	if precondition == "" {
		h.writeError(w, fmt.Errorf("%w: If-Match header is required", common.ErrValidation))
		return
	}

	var patch service.AddressPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid JSON body", common.ErrValidation))
		return
	}

	addr, err := h.svc.UpdateAddress(r.Context(), id, precondition, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("ETag", etag(addr.Fingerprint))
	h.writeJSON(w, http.StatusOK, withLinks(addr))
}

// DeleteAddress handles DELETE /addresses/{id}
func (h *Handler) DeleteAddress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.DeleteAddress(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- jobs ----

// GetJob handles GET /jobs/{id}, the polling endpoint for export jobs
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}
