// Package mgmtapi is the read-only operator status surface (A5): a
// chi-routed HTTP API exposing the binding cache and pending TSM
// transactions as JSON, for operators and tests. It is not a BACnet
// service — no client on the MS/TP segment ever talks to it.
package mgmtapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bacterium-io/mstpstack/pkg/binding"
	"github.com/bacterium-io/mstpstack/pkg/tsm"
)

type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Title: title, Status: status, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Handler serves the management API.
type Handler struct {
	binding *binding.Cache
	tsm     *tsm.TSM
}

// NewRouter builds the chi router. binding and/or tsm may be nil if the
// caller does not want that surface exposed; requests to it then report
// 503 Service Unavailable.
func NewRouter(bindingCache *binding.Cache, t *tsm.TSM) http.Handler {
	h := &Handler{binding: bindingCache, tsm: t}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))

	r.Get("/healthz", h.healthz)
	r.Route("/bindings", func(r chi.Router) {
		r.Get("/", h.listBindings)
		r.Get("/{deviceInstance}", h.getBinding)
	})
	r.Route("/tsm", func(r chi.Router) {
		r.Get("/", h.tsmSummary)
		r.Get("/{invokeID}", h.getTransaction)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listBindings(w http.ResponseWriter, r *http.Request) {
	if h.binding == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "binding cache not wired")
		return
	}
	writeJSON(w, http.StatusOK, h.binding.Snapshot())
}

func (h *Handler) getBinding(w http.ResponseWriter, r *http.Request) {
	if h.binding == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "binding cache not wired")
		return
	}
	instance, err := strconv.ParseUint(chi.URLParam(r, "deviceInstance"), 10, 32)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "device instance must be numeric")
		return
	}
	e, ok := h.binding.Lookup(uint32(instance))
	if !ok {
		writeProblem(w, http.StatusNotFound, "Not Found", "no binding for that device instance")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) tsmSummary(w http.ResponseWriter, r *http.Request) {
	if h.tsm == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "tsm not wired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"active_transactions": h.tsm.ActiveCount()})
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	if h.tsm == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "tsm not wired")
		return
	}
	invokeID, err := strconv.ParseUint(chi.URLParam(r, "invokeID"), 10, 8)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invoke id must be 0-255")
		return
	}
	id := byte(invokeID)
	if h.tsm.IsFree(id) {
		writeProblem(w, http.StatusNotFound, "Not Found", "invoke id has no live or pending transaction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoke_id": id,
		"state":     h.tsm.State(id).String(),
		"failed":    h.tsm.IsFailed(id),
	})
}
