package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/engine"
	"github.com/citadel-wallet/keysync/engine/agent"
	"github.com/citadel-wallet/keysync/engine/grouping"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/storage"
)

// API is the operator surface of the agent.
type API interface {
	Identifiers() ([]*kel.KeyState, error)
	Watch()
	PendingUpdates() []*kel.KELUpdateRequest
	ConfirmUpdate(aid kel.Prefix, sn uint64, digest string) error
	Duplicities() []*kel.KELUpdateRequest
	DismissDuplicity(aid kel.Prefix) int
	MissingReceipts(aid kel.Prefix) kel.PrefixList
	Resubmit(aid kel.Prefix) error
	Notices() []agent.NoticeView
	MarkRead(id string) bool
	Incept(req *grouping.InceptionRequest) (kel.OperationID, error)
	Rotate(req *grouping.RotationRequest) (kel.OperationID, error)
	Join(noticeID string) (kel.OperationID, error)
	Cancel(prefix kel.Prefix) bool
	Operations() []grouping.Operation
}

var _ API = (*agent.Agent)(nil)

// Resolver resolves introductions on the operator's request.
type Resolver interface {
	ResolveNow(prefix kel.Prefix, oobi string, alias string) error
}

type confirmRequest struct {
	Sn     uint64 `json:"sn"`
	Digest string `json:"digest"`
}

type resolveRequest struct {
	Prefix kel.Prefix `json:"prefix"`
	OOBI   string     `json:"oobi"`
	Alias  string     `json:"alias,omitempty"`
}

type operationResponse struct {
	Prefix kel.Prefix `json:"prefix"`
	Sn     uint64     `json:"sn"`
	Digest string     `json:"digest"`
	Kind   string     `json:"kind,omitempty"`
	State  string     `json:"state,omitempty"`
	Local  kel.Prefix `json:"local,omitempty"`
}

type noticeResponse struct {
	ID       string         `json:"id"`
	From     kel.Prefix     `json:"from"`
	Received string         `json:"received"`
	Read     bool           `json:"read"`
	Group    kel.Prefix     `json:"group"`
	Sn       uint64         `json:"sn"`
	Digest   string         `json:"digest"`
	Signers  kel.PrefixList `json:"signers"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Handler serves the admin API.
type Handler struct {
	log      zerolog.Logger
	api      API
	resolver Resolver
	contacts storage.Contacts
}

func NewHandler(log zerolog.Logger, api API, resolver Resolver, contacts storage.Contacts) *Handler {
	return &Handler{
		log:      log.With().Str("engine", "admin").Logger(),
		api:      api,
		resolver: resolver,
		contacts: contacts,
	}
}

// Register adds the admin routes under /admin.
func (h *Handler) Register(router *mux.Router) {
	r := router.PathPrefix("/admin").Subrouter()
	r.Use(LoggingMiddleware(h.log))

	r.Methods(http.MethodGet).Path("/identifiers").HandlerFunc(h.identifiers)
	r.Methods(http.MethodPost).Path("/identifiers/watch").HandlerFunc(h.watch)
	r.Methods(http.MethodGet).Path("/identifiers/{prefix}/receipts/missing").HandlerFunc(h.missingReceipts)
	r.Methods(http.MethodPost).Path("/identifiers/{prefix}/resubmit").HandlerFunc(h.resubmit)

	r.Methods(http.MethodGet).Path("/updates").HandlerFunc(h.pendingUpdates)
	r.Methods(http.MethodPost).Path("/updates/{prefix}/confirm").HandlerFunc(h.confirmUpdate)
	r.Methods(http.MethodGet).Path("/duplicity").HandlerFunc(h.duplicities)
	r.Methods(http.MethodDelete).Path("/duplicity/{prefix}").HandlerFunc(h.dismissDuplicity)

	r.Methods(http.MethodGet).Path("/notices").HandlerFunc(h.notices)
	r.Methods(http.MethodPost).Path("/notices/{id}/read").HandlerFunc(h.markRead)
	r.Methods(http.MethodPost).Path("/notices/{id}/join").HandlerFunc(h.join)

	r.Methods(http.MethodGet).Path("/groups/operations").HandlerFunc(h.operations)
	r.Methods(http.MethodPost).Path("/groups").HandlerFunc(h.incept)
	r.Methods(http.MethodPost).Path("/groups/{prefix}/rotate").HandlerFunc(h.rotate)
	r.Methods(http.MethodDelete).Path("/groups/{prefix}/operation").HandlerFunc(h.cancel)

	r.Methods(http.MethodGet).Path("/contacts").HandlerFunc(h.listContacts)
	r.Methods(http.MethodPost).Path("/contacts").HandlerFunc(h.resolve)
}

func (h *Handler) identifiers(w http.ResponseWriter, r *http.Request) {
	states, err := h.api.Identifiers()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, states)
}

func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	h.api.Watch()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) missingReceipts(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, nonNil(h.api.MissingReceipts(prefixVar(r))))
}

func (h *Handler) resubmit(w http.ResponseWriter, r *http.Request) {
	err := h.api.Resubmit(prefixVar(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) pendingUpdates(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, nonNil(h.api.PendingUpdates()))
}

func (h *Handler) confirmUpdate(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.api.ConfirmUpdate(prefixVar(r), req.Sn, req.Digest)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) duplicities(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, nonNil(h.api.Duplicities()))
}

func (h *Handler) dismissDuplicity(w http.ResponseWriter, r *http.Request) {
	dismissed := h.api.DismissDuplicity(prefixVar(r))
	h.respond(w, http.StatusOK, map[string]int{"dismissed": dismissed})
}

func (h *Handler) notices(w http.ResponseWriter, r *http.Request) {
	views := h.api.Notices()
	notices := make([]noticeResponse, 0, len(views))
	for _, view := range views {
		id := view.Multisig.Event.ID()
		notices = append(notices, noticeResponse{
			ID:       view.ID,
			From:     view.From,
			Received: view.Received.UTC().Format(time.RFC3339),
			Read:     view.Read,
			Group:    id.Prefix,
			Sn:       id.Sn,
			Digest:   id.Digest,
			Signers:  nonNil(view.Multisig.Signers),
		})
	}
	h.respond(w, http.StatusOK, notices)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	if !h.api.MarkRead(mux.Vars(r)["id"]) {
		h.respond(w, http.StatusNotFound, errorResponse{Message: "no such notice"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	id, err := h.api.Join(mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusAccepted, operationResponse{Prefix: id.Prefix, Sn: id.Sn, Digest: id.Digest})
}

func (h *Handler) operations(w http.ResponseWriter, r *http.Request) {
	ops := h.api.Operations()
	operations := make([]operationResponse, 0, len(ops))
	for _, op := range ops {
		operations = append(operations, operationResponse{
			Prefix: op.ID.Prefix,
			Sn:     op.ID.Sn,
			Digest: op.ID.Digest,
			Kind:   op.Kind.String(),
			State:  op.State.String(),
			Local:  op.Local,
		})
	}
	h.respond(w, http.StatusOK, operations)
}

func (h *Handler) incept(w http.ResponseWriter, r *http.Request) {
	var req grouping.InceptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.api.Incept(&req)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusAccepted, operationResponse{Prefix: id.Prefix, Sn: id.Sn, Digest: id.Digest})
}

func (h *Handler) rotate(w http.ResponseWriter, r *http.Request) {
	var req grouping.RotationRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Prefix = prefixVar(r)
	id, err := h.api.Rotate(&req)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusAccepted, operationResponse{Prefix: id.Prefix, Sn: id.Sn, Digest: id.Digest})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	if !h.api.Cancel(prefixVar(r)) {
		h.respond(w, http.StatusNotFound, errorResponse{Message: "no operation in flight"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.contacts.Contacts()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, nonNil(contacts))
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Prefix.IsEmpty() || req.OOBI == "" {
		h.respond(w, http.StatusBadRequest, errorResponse{Message: "prefix and oobi are required"})
		return
	}
	err := h.resolver.ResolveNow(req.Prefix, req.OOBI, req.Alias)
	if err != nil {
		h.respond(w, http.StatusBadGateway, errorResponse{Message: err.Error()})
		return
	}
	contact, err := h.contacts.Contact(req.Prefix)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusCreated, contact)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(v)
	if err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse{Message: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// fail maps domain errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case engine.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case engine.IsMismatchError(err), engine.IsDuplicityError(err), engine.IsOperationInProgressError(err):
		status = http.StatusConflict
	default:
		h.log.Error().Err(err).Msg("admin request failed")
	}
	h.respond(w, status, errorResponse{Message: err.Error()})
}

func (h *Handler) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.log.Debug().Err(err).Msg("could not write response")
	}
}

func prefixVar(r *http.Request) kel.Prefix {
	return kel.Prefix(mux.Vars(r)["prefix"])
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
