package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/crocstore/internal/crocdb"
	"github.com/italolelis/crocstore/internal/jobs"
	"github.com/italolelis/crocstore/internal/logctx"
	"github.com/italolelis/crocstore/internal/session"
	"github.com/italolelis/crocstore/internal/storage"
)

const defaultHistoryLimit = 100

type ErrorResponse struct {
	Error string `json:"error"`
}

type DownloadRequest struct {
	ROM crocdb.ROM `json:"rom"`
}

type DownloadResponse struct {
	ROMID    string `json:"rom_id"`
	Accepted bool   `json:"accepted"`
	// Reason is set when the download was not accepted.
	Reason jobs.StartResult `json:"reason,omitempty"`
}

type LaunchRequest struct {
	Path     string `json:"rom_path"`
	Platform string `json:"platform"`
}

type LaunchResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type LocalROMsResponse struct {
	ROMs    []crocdb.LocalROM    `json:"roms"`
	Summary session.LocalSummary `json:"summary"`
}

type SaveSettingsResponse struct {
	Saved    bool             `json:"saved"`
	Settings *crocdb.Settings `json:"settings,omitempty"`
}

type StateResponse struct {
	session.Flags
	Polling   []string `json:"polling"`
	Downloads int      `json:"downloads"`
}

// Handler exposes a session as a JSON API.
type Handler struct {
	session  *session.Session
	history  storage.HistoryReadRepository
	username string
	password string
}

// NewHandler creates the view API handler. Basic auth is enforced only when
// username is not empty. history may be nil, in which case /api/history
// answers with an empty list.
func NewHandler(s *session.Session, history storage.HistoryReadRepository, username, password string) *Handler {
	return &Handler{
		session:  s,
		history:  history,
		username: username,
		password: password,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/roms", h.HandleSearch)
		r.Get("/platforms", h.HandlePlatforms)

		r.Get("/downloads", h.HandleDownloads)
		r.Post("/downloads", h.HandleStartDownload)
		r.Get("/downloads/ws", h.HandleEvents)
		r.Get("/downloads/{romID}", h.HandleDownloadProgress)

		r.Get("/history", h.HandleHistory)
		r.Post("/launch", h.HandleLaunch)
		r.Get("/local-roms", h.HandleLocalROMs)

		r.Get("/settings", h.HandleGetSettings)
		r.Put("/settings", h.HandleSaveSettings)

		r.Get("/emulators", h.HandleEmulators)
		r.Get("/state", h.HandleState)
	})

	return r
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := session.DefaultSearchLimit

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "limit must be an integer")

			return
		}

		limit = n
	}

	roms := h.session.SearchROMs(r.Context(), q.Get("q"), q.Get("platform"), limit)

	writeJSON(w, r, http.StatusOK, roms)
}

func (h *Handler) HandlePlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.session.LoadPlatforms(r.Context()))
}

func (h *Handler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, session.GroupDownloads(h.session.Downloads()))
}

// HandleDownloadProgress asks the backend for a single job. It does not read
// or update the registry.
func (h *Handler) HandleDownloadProgress(w http.ResponseWriter, r *http.Request) {
	romID := chi.URLParam(r, "romID")

	job := h.session.GetDownloadProgress(r.Context(), romID)
	if job == nil {
		writeError(w, r, http.StatusNotFound, "no download for "+romID)

		return
	}

	writeJSON(w, r, http.StatusOK, job)
}

func (h *Handler) HandleStartDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		writeError(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	if req.ROM.ID == "" {
		writeError(w, r, http.StatusBadRequest, "rom.id is required")

		return
	}

	resp := DownloadResponse{ROMID: req.ROM.ID}

	res := h.session.SubmitDownload(r.Context(), req.ROM)
	if res == jobs.StartAccepted {
		resp.Accepted = true
		writeJSON(w, r, http.StatusAccepted, resp)

		return
	}

	resp.Reason = res

	switch res {
	case jobs.StartDuplicate:
		writeJSON(w, r, http.StatusConflict, resp)
	case jobs.StartRejected:
		writeJSON(w, r, http.StatusUnprocessableEntity, resp)
	case jobs.StartStopped:
		writeJSON(w, r, http.StatusServiceUnavailable, resp)
	default:
		writeJSON(w, r, http.StatusBadRequest, resp)
	}
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, r, http.StatusOK, []storage.HistoryRecord{})

		return
	}

	limit := defaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "limit must be an integer")

			return
		}

		limit = n
	}

	records, err := h.history.ListHistory(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list history", "err", err)
		writeError(w, r, http.StatusInternalServerError, "failed to list history")

		return
	}

	if records == nil {
		records = []storage.HistoryRecord{}
	}

	writeJSON(w, r, http.StatusOK, records)
}

func (h *Handler) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	if req.Path == "" {
		writeError(w, r, http.StatusBadRequest, "rom_path is required")

		return
	}

	if !h.session.LaunchROM(r.Context(), req.Path, req.Platform) {
		writeJSON(w, r, http.StatusUnprocessableEntity, LaunchResponse{
			Message: "failed to launch " + req.Path,
		})

		return
	}

	writeJSON(w, r, http.StatusOK, LaunchResponse{Success: true})
}

func (h *Handler) HandleLocalROMs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	roms := h.session.LoadLocalROMs(r.Context())

	writeJSON(w, r, http.StatusOK, LocalROMsResponse{
		ROMs:    session.FilterLocalROMs(roms, q.Get("platform"), q.Get("sort")),
		Summary: session.SummarizeLocalROMs(roms),
	})
}

func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.session.LoadSettings(r.Context()))
}

// HandleSaveSettings answers 200 with saved=false when the backend refuses,
// so the client can keep the form open.
func (h *Handler) HandleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings crocdb.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	saved := h.session.SaveSettings(r.Context(), settings)

	writeJSON(w, r, http.StatusOK, SaveSettingsResponse{
		Saved:    saved,
		Settings: h.session.Settings(),
	})
}

func (h *Handler) HandleEmulators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.session.DetectEmulators(r.Context()))
}

func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, StateResponse{
		Flags:     h.session.Flags(),
		Polling:   h.session.Polling(),
		Downloads: len(h.session.Downloads()),
	})
}

func (h *Handler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="crocstore"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, ErrorResponse{Error: msg})
}
