package mva

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-petshop/internal/common"
	"github.com/noah-isme/backend-petshop/internal/obs"
)

// RegisterValidations adds the "uf" tag used by MVA payloads.
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("uf", func(fl validator.FieldLevel) bool {
		return ValidState(fl.Field().String())
	})
}

// EntryStore is the writable configuration store behind the admin endpoints.
type EntryStore interface {
	Upsert(ctx context.Context, e Entry) (Entry, error)
	Delete(ctx context.Context, key Key) error
}

// RebuildScheduler requests a cluster-wide snapshot rebuild.
type RebuildScheduler interface {
	Schedule(ctx context.Context, reason string) error
}

// Handler exposes MVA lookup and configuration endpoints.
type Handler struct {
	Holder         *Holder
	Store          EntryStore
	Reloader       *Reloader
	Scheduler      RebuildScheduler
	Validate       *validator.Validate
	DefaultPerPage int
	MaxPerPage     int
	Logger         zerolog.Logger
}

type entryPayload struct {
	Product     string `json:"product" validate:"required,max=64"`
	Origin      string `json:"origin" validate:"required,uf"`
	Destination string `json:"destination" validate:"required,uf"`
	Percent     string `json:"percent" validate:"required,decimal"`
	Description string `json:"description" validate:"max=255"`
}

// EntryView is the JSON representation of an entry.
type EntryView struct {
	Product     string `json:"product"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Percent     string `json:"percent"`
	Description string `json:"description,omitempty"`
}

// SnapshotView describes the published table.
type SnapshotView struct {
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loadedAt"`
	Entries  int       `json:"entries"`
}

// ResolveView is the response body of the resolve endpoint.
type ResolveView struct {
	MVAPercent  string       `json:"mvaPercent"`
	Hit         bool         `json:"hit"`
	Matched     string       `json:"matched,omitempty"`
	Origin      string       `json:"origin"`
	Destination string       `json:"destination"`
	Snapshot    SnapshotView `json:"snapshot"`
}

func viewOf(e Entry) EntryView {
	return EntryView{
		Product:     e.Product,
		Origin:      e.Origin,
		Destination: e.Destination,
		Percent:     e.Percent.String(),
		Description: e.Description,
	}
}

func snapshotOf(t *Table) SnapshotView {
	return SnapshotView{Source: t.Source(), LoadedAt: t.LoadedAt(), Entries: t.Len()}
}

// Resolve returns the MVA for product (falling back to category) between two states.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin := strings.ToUpper(strings.TrimSpace(q.Get("origin")))
	destination := strings.ToUpper(strings.TrimSpace(q.Get("destination")))
	product := strings.TrimSpace(q.Get("product"))
	category := strings.TrimSpace(q.Get("category"))
	switch {
	case product == "" && category == "":
		common.WriteError(w, common.ValidationFailed("product", "product or category is required", nil))
		return
	case !ValidState(origin):
		common.WriteError(w, common.ValidationFailed("origin", "must be a Brazilian state code", nil))
		return
	case !ValidState(destination):
		common.WriteError(w, common.ValidationFailed("destination", "must be a Brazilian state code", nil))
		return
	}

	table := h.Holder.Load()
	view := ResolveView{MVAPercent: "0", Origin: origin, Destination: destination, Snapshot: snapshotOf(table)}
	for _, candidate := range []struct{ kind, id string }{{"product", product}, {"category", category}} {
		if candidate.id == "" {
			continue
		}
		if v, ok := table.Lookup(NewKey(candidate.id, origin, destination)); ok {
			view.MVAPercent, view.Hit, view.Matched = v.String(), true, candidate.kind
			break
		}
	}
	obs.ObserveMVALookup(view.Hit)
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// List returns the entries of the published snapshot, paginated.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	perPageDefault := h.DefaultPerPage
	if perPageDefault <= 0 {
		perPageDefault = 50
	}
	page, perPage := common.ParsePagination(r, perPageDefault, h.MaxPerPage)
	table := h.Holder.Load()
	entries := table.Entries()
	pagination := common.Pagination{Page: page, PerPage: perPage, TotalItems: len(entries)}
	start, end := pagination.Window()
	views := make([]EntryView, 0, end-start)
	for _, e := range entries[start:end] {
		views = append(views, viewOf(e))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": pagination,
		"snapshot":   snapshotOf(table),
	})
}

// Upsert creates or replaces an entry in the configuration store.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusConflict, "READ_ONLY_SOURCE", "mva source does not accept writes", nil)
		return
	}
	var payload entryPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(h.Validate, payload); err != nil {
		common.WriteError(w, err)
		return
	}
	percent, err := decimal.NewFromString(strings.TrimSpace(payload.Percent))
	if err != nil {
		common.WriteError(w, common.ValidationFailed("percent", "must be a decimal number", err))
		return
	}
	stored, err := h.Store.Upsert(r.Context(), Entry{
		Key:         NewKey(payload.Product, payload.Origin, payload.Destination),
		Percent:     percent,
		Description: strings.TrimSpace(payload.Description),
	})
	if err != nil {
		h.writeStoreError(w, err, "failed to store mva entry")
		return
	}
	h.afterWrite(r.Context(), "upsert "+stored.Key.String())
	common.JSON(w, http.StatusOK, map[string]any{"data": viewOf(stored)})
}

// Delete removes an entry from the configuration store.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusConflict, "READ_ONLY_SOURCE", "mva source does not accept writes", nil)
		return
	}
	key := NewKey(chi.URLParam(r, "product"), chi.URLParam(r, "origin"), chi.URLParam(r, "destination"))
	if err := key.Validate(); err != nil {
		h.writeStoreError(w, err, "")
		return
	}
	if err := h.Store.Delete(r.Context(), key); err != nil {
		h.writeStoreError(w, err, "failed to delete mva entry")
		return
	}
	h.afterWrite(r.Context(), "delete "+key.String())
	w.WriteHeader(http.StatusNoContent)
}

// Reload rebuilds the local snapshot from the configured source immediately.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.Reloader == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "mva reloader not configured", nil)
		return
	}
	table, err := h.Reloader.Reload(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "failed to reload mva table")
		return
	}
	if h.Scheduler != nil {
		if err := h.Scheduler.Schedule(r.Context(), "manual reload"); err != nil {
			h.Logger.Warn().Err(err).Msg("schedule mva rebuild")
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snapshotOf(table)})
}

// afterWrite refreshes this instance and asks the worker to rebuild the shared snapshot.
func (h *Handler) afterWrite(ctx context.Context, reason string) {
	if h.Reloader != nil {
		if _, err := h.Reloader.Reload(ctx); err != nil {
			h.Logger.Error().Err(err).Str("reason", reason).Msg("reload mva after write")
		}
	}
	if h.Scheduler != nil {
		if err := h.Scheduler.Schedule(ctx, reason); err != nil {
			h.Logger.Warn().Err(err).Str("reason", reason).Msg("schedule mva rebuild")
		}
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, message string) {
	var entryErr *EntryError
	switch {
	case errors.As(err, &entryErr):
		common.WriteError(w, common.ValidationFailed(entryErr.Field, entryErr.Reason, err))
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "mva entry not found", nil)
	default:
		h.Logger.Error().Err(err).Msg(message)
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", message, nil)
	}
}
