package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/crocstore/internal/crocdb"
	"github.com/italolelis/crocstore/internal/http/rest"
	"github.com/italolelis/crocstore/internal/jobs"
	"github.com/italolelis/crocstore/internal/session"
	"github.com/italolelis/crocstore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu sync.Mutex

	searchQuery string
	searchLimit int
	roms        []crocdb.ROM
	platforms   []crocdb.Platform
	local       []crocdb.LocalROM
	settings    crocdb.Settings
	saveOK      bool
	emulators   crocdb.EmulatorStatus
	launchOK    bool
	progress    map[string]*crocdb.DownloadProgress
	downloadOK  bool
	downloadIDs []string
}

func (f *fakeAPI) SearchROMs(_ context.Context, query, _ string, limit int) []crocdb.ROM {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.searchQuery = query
	f.searchLimit = limit

	return f.roms
}

func (f *fakeAPI) GetPlatforms(context.Context) []crocdb.Platform { return f.platforms }

func (f *fakeAPI) GetDownloadProgress(_ context.Context, romID string) *crocdb.DownloadProgress {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.progress[romID]
	if !ok || job == nil {
		return nil
	}

	cp := *job

	return &cp
}

func (f *fakeAPI) LaunchROM(context.Context, string, string) bool { return f.launchOK }

func (f *fakeAPI) GetLocalROMs(context.Context) []crocdb.LocalROM { return f.local }

func (f *fakeAPI) GetSettings(context.Context) crocdb.Settings { return f.settings }

func (f *fakeAPI) SaveSettings(context.Context, crocdb.Settings) bool { return f.saveOK }

func (f *fakeAPI) DetectEmulators(context.Context) crocdb.EmulatorStatus { return f.emulators }

func (f *fakeAPI) DownloadROM(_ context.Context, romID string, _ crocdb.ROM) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.downloadIDs = append(f.downloadIDs, romID)

	return f.downloadOK
}

func (f *fakeAPI) GetAllDownloads(context.Context) map[string]crocdb.DownloadProgress {
	return map[string]crocdb.DownloadProgress{}
}

type fakeHistory struct {
	mu      sync.Mutex
	records []storage.HistoryRecord
	limit   int
	err     error
}

func (f *fakeHistory) ListHistory(_ context.Context, limit int) ([]storage.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.limit = limit

	return f.records, f.err
}

type fixture struct {
	tracker *jobs.Tracker
	server  *httptest.Server
}

func newFixture(t *testing.T, api *fakeAPI, history storage.HistoryReadRepository, username, password string) *fixture {
	t.Helper()

	tracker := jobs.NewTracker(api, jobs.NewRegistry(), jobs.Config{
		PollInterval:    5 * time.Millisecond,
		RefreshInterval: time.Hour,
	})

	h := rest.NewHandler(session.New(api, tracker), history, username, password)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	// Registered last so it runs first and ends open event streams.
	t.Cleanup(tracker.Stop)

	return &fixture{tracker: tracker, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))

	return v
}

func TestHandler_Search(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantLimit  int
	}{
		{name: "default limit", path: "/api/roms?q=zelda", wantStatus: http.StatusOK, wantLimit: session.DefaultSearchLimit},
		{name: "explicit limit", path: "/api/roms?q=zelda&limit=5", wantStatus: http.StatusOK, wantLimit: 5},
		{name: "invalid limit", path: "/api/roms?q=zelda&limit=lots", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{roms: []crocdb.ROM{{ID: "rom-1", Name: "Zelda"}}}
			f := newFixture(t, api, nil, "", "")

			resp := f.do(t, http.MethodGet, tt.path, "")
			require.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantStatus != http.StatusOK {
				return
			}

			roms := decode[[]crocdb.ROM](t, resp)
			assert.Equal(t, api.roms, roms)

			api.mu.Lock()
			defer api.mu.Unlock()

			assert.Equal(t, "zelda", api.searchQuery)
			assert.Equal(t, tt.wantLimit, api.searchLimit)
		})
	}
}

func TestHandler_Downloads(t *testing.T) {
	f := newFixture(t, &fakeAPI{}, nil, "", "")

	f.tracker.Registry().Replace(map[string]crocdb.DownloadProgress{
		"a": {Status: crocdb.StatusCompleted, Progress: 100, Filename: "a.zip"},
		"b": {Status: crocdb.StatusDownloading, Progress: 40, Filename: "b.zip"},
		"c": {Status: crocdb.StatusError, Filename: "c.zip", Error: "disk full"},
	})

	resp := f.do(t, http.MethodGet, "/api/downloads", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	groups := decode[session.DownloadGroups](t, resp)
	require.Len(t, groups.Active, 1)
	require.Len(t, groups.Completed, 1)
	require.Len(t, groups.Failed, 1)
	assert.Equal(t, "b", groups.Active[0].ROMID)
	assert.Equal(t, "disk full", groups.Failed[0].Job.Error)
}

func TestHandler_DownloadProgress(t *testing.T) {
	api := &fakeAPI{progress: map[string]*crocdb.DownloadProgress{
		"rom-1": {Status: crocdb.StatusDownloading, Progress: 10},
	}}
	f := newFixture(t, api, nil, "", "")

	resp := f.do(t, http.MethodGet, "/api/downloads/rom-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10, decode[crocdb.DownloadProgress](t, resp).Progress)

	resp = f.do(t, http.MethodGet, "/api/downloads/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, ok := f.tracker.Registry().Get("rom-1")
	assert.False(t, ok, "single progress lookups must not touch the registry")
}

func TestHandler_StartDownload(t *testing.T) {
	api := &fakeAPI{
		downloadOK: true,
		progress: map[string]*crocdb.DownloadProgress{
			"rom-1": {Status: crocdb.StatusDownloading, Progress: 10},
		},
	}
	f := newFixture(t, api, nil, "", "")

	body := `{"rom":{"id":"rom-1","name":"Zelda","platform":"snes"}}`

	resp := f.do(t, http.MethodPost, "/api/downloads", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, rest.DownloadResponse{ROMID: "rom-1", Accepted: true}, decode[rest.DownloadResponse](t, resp))

	resp = f.do(t, http.MethodPost, "/api/downloads", body)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t,
		rest.DownloadResponse{ROMID: "rom-1", Reason: jobs.StartDuplicate},
		decode[rest.DownloadResponse](t, resp))

	api.mu.Lock()
	assert.Equal(t, []string{"rom-1"}, api.downloadIDs)
	api.mu.Unlock()
}

func TestHandler_StartDownloadErrors(t *testing.T) {
	tests := []struct {
		name       string
		downloadOK bool
		body       string
		wantStatus int
		wantReason jobs.StartResult
	}{
		{name: "invalid body", downloadOK: true, body: `{`, wantStatus: http.StatusBadRequest},
		{name: "missing id", downloadOK: true, body: `{"rom":{"name":"Zelda"}}`, wantStatus: http.StatusBadRequest},
		{
			name:       "backend rejects",
			downloadOK: false,
			body:       `{"rom":{"id":"rom-1"}}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: jobs.StartRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeAPI{downloadOK: tt.downloadOK}, nil, "", "")

			resp := f.do(t, http.MethodPost, "/api/downloads", tt.body)
			require.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantReason != "" {
				got := decode[rest.DownloadResponse](t, resp)
				assert.False(t, got.Accepted)
				assert.Equal(t, tt.wantReason, got.Reason)
			}
		})
	}
}

func TestHandler_StartDownloadAfterTrackerStop(t *testing.T) {
	api := &fakeAPI{downloadOK: true}
	f := newFixture(t, api, nil, "", "")

	f.tracker.Stop()

	resp := f.do(t, http.MethodPost, "/api/downloads", `{"rom":{"id":"rom-1"}}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, jobs.StartStopped, decode[rest.DownloadResponse](t, resp).Reason)

	api.mu.Lock()
	assert.Empty(t, api.downloadIDs)
	api.mu.Unlock()
}

func TestHandler_Launch(t *testing.T) {
	tests := []struct {
		name       string
		launchOK   bool
		body       string
		wantStatus int
		want       rest.LaunchResponse
	}{
		{
			name:       "launched",
			launchOK:   true,
			body:       `{"rom_path":"/roms/snes/zelda.sfc","platform":"snes"}`,
			wantStatus: http.StatusOK,
			want:       rest.LaunchResponse{Success: true},
		},
		{
			name:       "launch failed",
			launchOK:   false,
			body:       `{"rom_path":"/roms/snes/zelda.sfc","platform":"snes"}`,
			wantStatus: http.StatusUnprocessableEntity,
			want:       rest.LaunchResponse{Message: "failed to launch /roms/snes/zelda.sfc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeAPI{launchOK: tt.launchOK}, nil, "", "")

			resp := f.do(t, http.MethodPost, "/api/launch", tt.body)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.want, decode[rest.LaunchResponse](t, resp))
		})
	}

	t.Run("missing path", func(t *testing.T) {
		f := newFixture(t, &fakeAPI{launchOK: true}, nil, "", "")

		resp := f.do(t, http.MethodPost, "/api/launch", `{"platform":"snes"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandler_LocalROMs(t *testing.T) {
	api := &fakeAPI{local: []crocdb.LocalROM{
		{Name: "Zelda", Platform: "snes", Size: 1024, Modified: 200},
		{Name: "Metroid", Platform: "snes", Size: 2048, Modified: 100},
		{Name: "Sonic", Platform: "genesis", Size: 512, Modified: 300},
	}}
	f := newFixture(t, api, nil, "", "")

	resp := f.do(t, http.MethodGet, "/api/local-roms?platform=snes&sort=name", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[rest.LocalROMsResponse](t, resp)
	require.Len(t, got.ROMs, 2)
	assert.Equal(t, "Metroid", got.ROMs[0].Name)
	assert.Equal(t, "Zelda", got.ROMs[1].Name)
	assert.Equal(t, 3, got.Summary.Count)
	assert.Equal(t, []string{"genesis", "snes"}, got.Summary.Platforms)
	assert.EqualValues(t, 3584, got.Summary.TotalSize)
}

func TestHandler_Settings(t *testing.T) {
	t.Run("get", func(t *testing.T) {
		f := newFixture(t, &fakeAPI{settings: crocdb.DefaultSettings()}, nil, "", "")

		resp := f.do(t, http.MethodGet, "/api/settings", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, crocdb.DefaultSettings(), decode[crocdb.Settings](t, resp))
	})

	t.Run("save clamps the concurrent limit", func(t *testing.T) {
		f := newFixture(t, &fakeAPI{saveOK: true}, nil, "", "")

		resp := f.do(t, http.MethodPut, "/api/settings", `{"download_concurrent_limit":50,"regions":["USA"]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		got := decode[rest.SaveSettingsResponse](t, resp)
		require.True(t, got.Saved)
		require.NotNil(t, got.Settings)
		assert.Equal(t, crocdb.MaxConcurrentLimit, got.Settings.DownloadConcurrentLimit)
		assert.Equal(t, []string{"USA"}, got.Settings.Regions)
	})

	t.Run("save rejected", func(t *testing.T) {
		f := newFixture(t, &fakeAPI{saveOK: false}, nil, "", "")

		resp := f.do(t, http.MethodPut, "/api/settings", `{"download_concurrent_limit":2}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		got := decode[rest.SaveSettingsResponse](t, resp)
		assert.False(t, got.Saved)
		assert.Nil(t, got.Settings)
	})

	t.Run("invalid body", func(t *testing.T) {
		f := newFixture(t, &fakeAPI{saveOK: true}, nil, "", "")

		resp := f.do(t, http.MethodPut, "/api/settings", `not json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandler_PlatformsAndEmulators(t *testing.T) {
	api := &fakeAPI{
		platforms: []crocdb.Platform{{ID: "snes", Name: "Super Nintendo", ShortName: "SNES"}},
		emulators: crocdb.EmulatorStatus{"retroarch": true, "dolphin": false},
	}
	f := newFixture(t, api, nil, "", "")

	resp := f.do(t, http.MethodGet, "/api/platforms", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.platforms, decode[[]crocdb.Platform](t, resp))

	resp = f.do(t, http.MethodGet, "/api/emulators", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.emulators, decode[crocdb.EmulatorStatus](t, resp))
}

func TestHandler_History(t *testing.T) {
	finished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("lists records", func(t *testing.T) {
		history := &fakeHistory{records: []storage.HistoryRecord{
			{ROMID: "rom-1", Filename: "zelda.zip", Status: crocdb.StatusCompleted, FinishedAt: finished},
		}}
		f := newFixture(t, &fakeAPI{}, history, "", "")

		resp := f.do(t, http.MethodGet, "/api/history?limit=5", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		got := decode[[]storage.HistoryRecord](t, resp)
		require.Len(t, got, 1)
		assert.Equal(t, "rom-1", got[0].ROMID)
		assert.True(t, finished.Equal(got[0].FinishedAt))

		history.mu.Lock()
		assert.Equal(t, 5, history.limit)
		history.mu.Unlock()
	})

	t.Run("repository error", func(t *testing.T) {
		f := newFixture(t, &fakeAPI{}, &fakeHistory{err: errors.New("db closed")}, "", "")

		resp := f.do(t, http.MethodGet, "/api/history", "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("no repository", func(t *testing.T) {
		f := newFixture(t, &fakeAPI{}, nil, "", "")

		resp := f.do(t, http.MethodGet, "/api/history", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, decode[[]storage.HistoryRecord](t, resp))
	})
}

func TestHandler_State(t *testing.T) {
	f := newFixture(t, &fakeAPI{}, nil, "", "")

	f.tracker.Registry().Replace(map[string]crocdb.DownloadProgress{
		"a": {Status: crocdb.StatusCompleted},
	})

	resp := f.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[rest.StateResponse](t, resp)
	assert.False(t, got.IsSearching)
	assert.Equal(t, 1, got.Downloads)
	assert.Empty(t, got.Polling)
}

func TestHandler_BasicAuth(t *testing.T) {
	f := newFixture(t, &fakeAPI{}, nil, "admin", "secret")

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		wantStatus int
	}{
		{name: "no credentials", wantStatus: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "nope", setAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "valid credentials", user: "admin", pass: "secret", setAuth: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/state", nil)
			require.NoError(t, err)

			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}
