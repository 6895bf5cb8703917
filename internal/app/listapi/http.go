// Package listapi is the HTTP surface for shopping lists: item commands, the
// full-list fetch and the per-list event stream.
package listapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/homecart/listsync/internal/app/shopping"
	"github.com/homecart/listsync/internal/contracts"
	platformauth "github.com/homecart/listsync/internal/platform/auth"
	"github.com/homecart/listsync/internal/platform/logger"
	"github.com/homecart/listsync/internal/platform/metrics"
	"github.com/homecart/listsync/internal/realtime"
)

// StreamServer writes the live event stream of one list.
type StreamServer interface {
	ServeList(w http.ResponseWriter, r *http.Request, listID string)
}

type Handler struct {
	Service  *shopping.Service
	Streams  StreamServer
	Notifier realtime.Notifier
	Tokens   platformauth.Manager
	APIKey   platformauth.APIKeyVerifier
	Log      *logger.Logger
	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready         func(ctx context.Context) error
	AllowedOrigin string
}

func NewHandler(service *shopping.Service, streams StreamServer, notifier realtime.Notifier, tokens platformauth.Manager, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		Service:  service,
		Streams:  streams,
		Notifier: notifier,
		Tokens:   tokens,
		Log:      log.With("component", "list-api"),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLog)
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", metrics.DefaultHandler())

	r.Route("/api/v1/households/{householdID}", func(hr chi.Router) {
		hr.Use(h.apiKeyMiddleware)
		hr.Use(h.authMiddleware)
		hr.Use(h.householdMiddleware)

		hr.Post("/lists", h.handleCreateList)
		hr.Post("/templates", h.handleCreateTemplate)

		hr.Route("/lists/{listID}", func(lr chi.Router) {
			lr.Get("/events", h.handleEvents)
			lr.Get("/items", h.handleListItems)
			lr.Post("/items", h.handleAddItem)
			lr.Post("/items/from-template", h.handleAddFromTemplate)
			lr.Put("/items/{itemID}", h.handleUpdateItem)
			lr.Delete("/items/{itemID}", h.handleRemoveItem)
			lr.Post("/items/{itemID}/check", h.handleCheckItem)
			lr.Post("/items/{itemID}/uncheck", h.handleUncheckItem)
		})
	})

	return r
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createListRequest struct {
	Name string `json:"name"`
}

type addFromTemplateRequest struct {
	TemplateID string `json:"template_id"`
	Quantity   int    `json:"quantity"`
}

type itemsResponse struct {
	ListID string          `json:"list_id"`
	Items  []shopping.Item `json:"items"`
}

func (h *Handler) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req createListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	list, err := h.Service.CreateList(r.Context(), chi.URLParam(r, "householdID"), req.Name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, list)
}

func (h *Handler) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req shopping.ItemFields
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	tpl, err := h.Service.CreateTemplate(r.Context(), chi.URLParam(r, "householdID"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tpl)
}

// handleEvents checks the list is visible to the caller, then hands the
// connection to the stream server for its lifetime.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.List(r.Context(), chi.URLParam(r, "householdID"), chi.URLParam(r, "listID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.Streams.ServeList(w, r, list.ID)
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	items, err := h.Service.Items(r.Context(), chi.URLParam(r, "householdID"), listID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, itemsResponse{ListID: listID, Items: items})
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req shopping.ItemFields
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	item, event, err := h.Service.AddItem(r.Context(), shopping.AddItemCommand{
		HouseholdID: chi.URLParam(r, "householdID"),
		ListID:      chi.URLParam(r, "listID"),
		ItemFields:  req,
	})
	h.finishCommand(w, http.StatusCreated, item, event, err)
}

func (h *Handler) handleAddFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req addFromTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	item, event, err := h.Service.AddItemFromTemplate(r.Context(), shopping.AddFromTemplateCommand{
		HouseholdID: chi.URLParam(r, "householdID"),
		ListID:      chi.URLParam(r, "listID"),
		TemplateID:  req.TemplateID,
		Quantity:    req.Quantity,
	})
	h.finishCommand(w, http.StatusCreated, item, event, err)
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req shopping.ItemFields
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	item, event, err := h.Service.UpdateItem(r.Context(), shopping.UpdateItemCommand{
		HouseholdID: chi.URLParam(r, "householdID"),
		ListID:      chi.URLParam(r, "listID"),
		ItemID:      chi.URLParam(r, "itemID"),
		ItemFields:  req,
	})
	h.finishCommand(w, http.StatusOK, item, event, err)
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	item, event, err := h.Service.RemoveItem(r.Context(), itemCommand(r))
	h.finishCommand(w, http.StatusNoContent, item, event, err)
}

func (h *Handler) handleCheckItem(w http.ResponseWriter, r *http.Request) {
	item, event, err := h.Service.CheckItem(r.Context(), itemCommand(r))
	h.finishCommand(w, http.StatusOK, item, event, err)
}

func (h *Handler) handleUncheckItem(w http.ResponseWriter, r *http.Request) {
	item, event, err := h.Service.UncheckItem(r.Context(), itemCommand(r))
	h.finishCommand(w, http.StatusOK, item, event, err)
}

func itemCommand(r *http.Request) shopping.ItemCommand {
	return shopping.ItemCommand{
		HouseholdID: chi.URLParam(r, "householdID"),
		ListID:      chi.URLParam(r, "listID"),
		ItemID:      chi.URLParam(r, "itemID"),
	}
}

// finishCommand answers a command and, when it succeeded, notifies the list's
// viewers. Delivery is best effort and never changes the response.
func (h *Handler) finishCommand(w http.ResponseWriter, status int, item shopping.Item, event contracts.DomainEvent, err error) {
	commandsTotal.WithLabelValues(commandOutcome(err)).Inc()
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if h.Notifier != nil && event != nil {
		eventsNotified.WithLabelValues(string(contracts.Translate(event).Kind)).Inc()
		h.Notifier.Notify(item.ListID, event)
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	h.writeJSON(w, status, item)
}

func commandOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shopping.ErrNameRequired), errors.Is(err, shopping.ErrInvalidQuantity), errors.Is(err, shopping.ErrInvalidPrice):
		return "invalid"
	case errors.Is(err, shopping.ErrHouseholdMismatch):
		return "forbidden"
	case errors.Is(err, shopping.ErrListNotFound), errors.Is(err, shopping.ErrItemNotFound), errors.Is(err, shopping.ErrTemplateNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shopping.ErrNameRequired), errors.Is(err, shopping.ErrInvalidQuantity), errors.Is(err, shopping.ErrInvalidPrice):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shopping.ErrHouseholdMismatch):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, shopping.ErrListNotFound), errors.Is(err, shopping.ErrItemNotFound), errors.Is(err, shopping.ErrTemplateNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.Log.Error("command failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin())
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOrigin() string {
	if allowed := strings.TrimSpace(h.AllowedOrigin); allowed != "" {
		return allowed
	}
	return "*"
}

func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if !strings.HasSuffix(route, "/events") {
			requestDuration.Observe(time.Since(start).Seconds(), r.Method, route)
		}
		h.Log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
