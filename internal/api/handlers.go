package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/starford/spices/internal/apperr"
	"github.com/starford/spices/internal/harvester"
	"github.com/starford/spices/internal/ledger"
	"github.com/starford/spices/internal/models"
	"github.com/starford/spices/internal/updates"
)

var errBusy = errors.New("another operation on this spice is in progress")

// Handler holds API route handlers.
type Handler struct {
	m    *harvester.Manager
	busy *inflight
}

// NewHandler creates a new Handler.
func NewHandler(m *harvester.Manager) *Handler {
	return &Handler{m: m, busy: newInflight()}
}

// harvesterFor resolves the {type} URL parameter.
func (h *Handler) harvesterFor(w http.ResponseWriter, r *http.Request) (*harvester.Harvester, bool) {
	kind, err := models.ParsePackageType(chi.URLParam(r, "type"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return nil, false
	}
	hv, ok := h.m.Harvester(kind)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody(fmt.Sprintf("type %s is not managed", kind)))
		return nil, false
	}
	return hv, true
}

// Status handles GET /api/status.
//
//	@Summary		Cache state of every package type
//	@Tags			spices
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{Types: []TypeStatus{}}
	for _, hv := range h.m.All() {
		st := TypeStatus{
			Type:      hv.Type(),
			HasCache:  hv.HasCache(),
			Entries:   len(hv.Index()),
			Installed: len(hv.Installed()),
			Updates:   len(hv.GetUpdates()),
		}
		if age, ok := hv.CacheAge(); ok {
			st.AgeSeconds = int64(age / time.Second)
			st.Refreshed = humanize.Time(time.Now().Add(-age))
		}
		resp.Types = append(resp.Types, st)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListUpdates handles GET /api/updates.
//
//	@Summary		Installed spices with a newer remote revision
//	@Tags			updates
//	@Produce		json
//	@Success		200	{object}	UpdatesResponse
//	@Security		BearerAuth
//	@Router			/updates [get]
func (h *Handler) ListUpdates(w http.ResponseWriter, _ *http.Request) {
	recs := h.m.GetUpdates()
	if recs == nil {
		recs = []models.UpdateRecord{}
	}
	writeJSON(w, http.StatusOK, UpdatesResponse{Updates: recs})
}

// Refresh handles POST /api/refresh. Per-type failures are reported in the
// body; the response is 200 as long as the refresh ran.
//
//	@Summary		Refresh every index and preview cache
//	@Tags			updates
//	@Produce		json
//	@Success		200	{object}	RefreshResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	release, err := h.busy.acquire("refresh", "refresh", "")
	if err != nil {
		writeError(w, "refresh", err)
		return
	}
	defer release()

	reports, err := h.m.RefreshAllCaches(r.Context())
	if err != nil {
		slog.Warn("refresh finished with errors", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Reports: reports, OK: err == nil})
}

// Upgrade handles POST /api/upgrade.
//
//	@Summary		Upgrade one spice
//	@Tags			updates
//	@Accept			json
//	@Produce		json
//	@Param			body	body		UpgradeRequest	true	"Spice to upgrade"
//	@Success		200		{object}	installer.Result
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/upgrade [post]
func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req UpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	kind, err := models.ParsePackageType(req.Type)
	if err != nil || req.UUID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("type and uuid are required"))
		return
	}

	release, err := h.busy.acquire("upgrade", kind.String()+"/"+req.UUID, req.UUID)
	if err != nil {
		writeError(w, "upgrade", err)
		return
	}
	defer release()

	res, err := h.m.Upgrade(r.Context(), models.UpdateRecord{Type: kind, UUID: req.UUID})
	if err != nil {
		writeError(w, "upgrade", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UpgradeAll handles POST /api/upgrade-all.
func (h *Handler) UpgradeAll(w http.ResponseWriter, r *http.Request) {
	release, err := h.busy.acquire("upgrade all", "upgrade-all", "")
	if err != nil {
		writeError(w, "upgrade all", err)
		return
	}
	defer release()

	results, err := h.m.UpgradeAll(r.Context())
	resp := UpgradeAllResponse{Results: results}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListIndex handles GET /api/spices/{type}.
//
//	@Summary		Catalog of one type with installed and enabled flags
//	@Tags			spices
//	@Produce		json
//	@Param			type	path		string	true	"Package type"	Enums(applet, desklet, extension, theme)
//	@Success		200		{object}	SpiceListResponse
//	@Security		BearerAuth
//	@Router			/spices/{type} [get]
func (h *Handler) ListIndex(w http.ResponseWriter, r *http.Request) {
	hv, ok := h.harvesterFor(w, r)
	if !ok {
		return
	}
	installed := hv.Installed()
	enabled, err := hv.Enabled(r.Context())
	if err != nil {
		slog.Warn("reading enabled spices failed", slog.String("type", hv.Type().String()), slog.String("error", err.Error()))
	}

	index := hv.Index()
	items := make([]SpiceItem, 0, len(index))
	for uuid, e := range index {
		local, isInstalled := installed[uuid]
		items = append(items, SpiceItem{
			RemoteEntry: e,
			Installed:   isInstalled,
			Enabled:     enabled[uuid],
			HasUpdate:   isInstalled && updates.HasUpdate(local, e),
			Version:     models.VersionString(e.LastEdited),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UUID < items[j].UUID })
	writeJSON(w, http.StatusOK, SpiceListResponse{Type: hv.Type(), Spices: items})
}

// ListInstalled handles GET /api/spices/{type}/installed.
func (h *Handler) ListInstalled(w http.ResponseWriter, r *http.Request) {
	hv, ok := h.harvesterFor(w, r)
	if !ok {
		return
	}
	installed := hv.Installed()
	list := make([]models.LocalEntry, 0, len(installed))
	for _, e := range installed {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UUID < list[j].UUID })
	writeJSON(w, http.StatusOK, InstalledResponse{Type: hv.Type(), Installed: list})
}

// Search handles GET /api/spices/{type}/search.
//
//	@Summary		Search the catalog of one type
//	@Tags			spices
//	@Produce		json
//	@Param			type	path		string	true	"Package type"
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/spices/{type}/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	hv, ok := h.harvesterFor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := hv.Search(q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []ledger.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Install handles POST /api/spices/{type}/{uuid}/install.
//
//	@Summary		Install or upgrade a spice from the catalog
//	@Tags			spices
//	@Produce		json
//	@Param			type	path		string	true	"Package type"
//	@Param			uuid	path		string	true	"Spice uuid"
//	@Success		200		{object}	installer.Result
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/spices/{type}/{uuid}/install [post]
func (h *Handler) Install(w http.ResponseWriter, r *http.Request) {
	hv, ok := h.harvesterFor(w, r)
	if !ok {
		return
	}
	uuid := chi.URLParam(r, "uuid")
	release, err := h.busy.acquire("install", hv.Type().String()+"/"+uuid, uuid)
	if err != nil {
		writeError(w, "install", err)
		return
	}
	defer release()

	res, err := hv.Install(r.Context(), uuid)
	if err != nil {
		writeError(w, "install", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// InstallFolder handles POST /api/spices/{type}/install-folder.
func (h *Handler) InstallFolder(w http.ResponseWriter, r *http.Request) {
	hv, ok := h.harvesterFor(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req InstallFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := hv.InstallFromFolder(r.Context(), req.Path)
	if err != nil {
		writeError(w, "install from folder", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Uninstall handles DELETE /api/spices/{type}/{uuid}.
func (h *Handler) Uninstall(w http.ResponseWriter, r *http.Request) {
	hv, ok := h.harvesterFor(w, r)
	if !ok {
		return
	}
	uuid := chi.URLParam(r, "uuid")
	release, err := h.busy.acquire("uninstall", hv.Type().String()+"/"+uuid, uuid)
	if err != nil {
		writeError(w, "uninstall", err)
		return
	}
	defer release()

	res, err := hv.Uninstall(r.Context(), uuid)
	if err != nil {
		writeError(w, "uninstall", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Preview handles GET /api/spices/{type}/{uuid}/preview and serves the
// cached icon or screenshot.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	hv, ok := h.harvesterFor(w, r)
	if !ok {
		return
	}
	uuid := chi.URLParam(r, "uuid")
	p, ok := hv.AssetPath(uuid)
	if !ok {
		writeError(w, "preview", apperr.NotFound("preview", uuid))
		return
	}
	w.Header().Set("Cache-Control", "max-age=600")
	http.ServeFile(w, r, p)
}
