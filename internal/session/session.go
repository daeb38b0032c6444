// Package session is the per-process store behind the view API. It owns the
// latest search results, platforms, local ROMs, settings and emulator status,
// delegates download jobs to a jobs.Tracker, and exposes loading flags for
// every request it is waiting on.
package session

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/italolelis/crocstore/internal/crocdb"
	"github.com/italolelis/crocstore/internal/jobs"
	"github.com/italolelis/crocstore/internal/logctx"
	"golang.org/x/sync/errgroup"
)

// DefaultSearchLimit is used when a search does not ask for a positive limit.
const DefaultSearchLimit = 20

// API is the subset of the backend client the session needs besides downloads.
type API interface {
	SearchROMs(ctx context.Context, query, platform string, limit int) []crocdb.ROM
	GetPlatforms(ctx context.Context) []crocdb.Platform
	GetDownloadProgress(ctx context.Context, romID string) *crocdb.DownloadProgress
	LaunchROM(ctx context.Context, path, platform string) bool
	GetLocalROMs(ctx context.Context) []crocdb.LocalROM
	GetSettings(ctx context.Context) crocdb.Settings
	SaveSettings(ctx context.Context, settings crocdb.Settings) bool
	DetectEmulators(ctx context.Context) crocdb.EmulatorStatus
}

// Flags reports which requests are in flight.
type Flags struct {
	IsSearching        bool `json:"is_searching"`
	IsLoadingPlatforms bool `json:"is_loading_platforms"`
	IsLoadingLocalROMs bool `json:"is_loading_local_roms"`
	IsLoadingSettings  bool `json:"is_loading_settings"`
}

type Session struct {
	api     API
	tracker *jobs.Tracker

	mu            sync.RWMutex
	searchResults []crocdb.ROM
	platforms     []crocdb.Platform
	localROMs     []crocdb.LocalROM
	settings      *crocdb.Settings
	emulators     crocdb.EmulatorStatus

	isSearching        atomic.Bool
	isLoadingPlatforms atomic.Bool
	isLoadingLocalROMs atomic.Bool
	isLoadingSettings  atomic.Bool
}

func New(api API, tracker *jobs.Tracker) *Session {
	return &Session{
		api:           api,
		tracker:       tracker,
		searchResults: []crocdb.ROM{},
		platforms:     []crocdb.Platform{},
		localROMs:     []crocdb.LocalROM{},
		emulators:     crocdb.EmulatorStatus{},
	}
}

// Init performs the start-up load: platforms, settings, emulators and a bulk
// refresh of the download registry run concurrently.
func (s *Session) Init(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.LoadPlatforms(ctx)

		return ctx.Err()
	})
	g.Go(func() error {
		s.LoadSettings(ctx)

		return ctx.Err()
	})
	g.Go(func() error {
		s.DetectEmulators(ctx)

		return ctx.Err()
	})
	g.Go(func() error {
		s.tracker.RefreshAll(ctx)

		return ctx.Err()
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("session initialised",
		"platforms", len(s.Platforms()),
		"downloads", s.tracker.Registry().Len(),
		"emulators", len(s.Emulators()))

	return nil
}

// SearchROMs searches the catalog and stores the results.
func (s *Session) SearchROMs(ctx context.Context, query, platform string, limit int) []crocdb.ROM {
	s.isSearching.Store(true)
	defer s.isSearching.Store(false)

	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	results := s.api.SearchROMs(ctx, query, platform, limit)

	s.mu.Lock()
	s.searchResults = results
	s.mu.Unlock()

	return results
}

func (s *Session) LoadPlatforms(ctx context.Context) []crocdb.Platform {
	s.isLoadingPlatforms.Store(true)
	defer s.isLoadingPlatforms.Store(false)

	platforms := s.api.GetPlatforms(ctx)

	s.mu.Lock()
	s.platforms = platforms
	s.mu.Unlock()

	return platforms
}

func (s *Session) LoadLocalROMs(ctx context.Context) []crocdb.LocalROM {
	s.isLoadingLocalROMs.Store(true)
	defer s.isLoadingLocalROMs.Store(false)

	roms := s.api.GetLocalROMs(ctx)

	s.mu.Lock()
	s.localROMs = roms
	s.mu.Unlock()

	return roms
}

// LoadSettings fetches settings; the client already falls back to defaults.
func (s *Session) LoadSettings(ctx context.Context) crocdb.Settings {
	s.isLoadingSettings.Store(true)
	defer s.isLoadingSettings.Store(false)

	settings := s.api.GetSettings(ctx)

	s.mu.Lock()
	s.settings = &settings
	s.mu.Unlock()

	return settings
}

// SaveSettings validates and persists settings. The stored copy is replaced
// only when the backend confirms the save.
func (s *Session) SaveSettings(ctx context.Context, settings crocdb.Settings) bool {
	settings = settings.Normalize()

	if !s.api.SaveSettings(ctx, settings) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "settings were not saved")

		return false
	}

	s.mu.Lock()
	s.settings = &settings
	s.mu.Unlock()

	return true
}

func (s *Session) DetectEmulators(ctx context.Context) crocdb.EmulatorStatus {
	emulators := s.api.DetectEmulators(ctx)

	s.mu.Lock()
	s.emulators = emulators
	s.mu.Unlock()

	return emulators
}

// DownloadROM starts a tracked download. See jobs.Tracker.StartJob.
func (s *Session) DownloadROM(ctx context.Context, rom crocdb.ROM) bool {
	return s.tracker.StartJob(ctx, rom)
}

// SubmitDownload is DownloadROM with the reason a request was not accepted.
func (s *Session) SubmitDownload(ctx context.Context, rom crocdb.ROM) jobs.StartResult {
	return s.tracker.Submit(ctx, rom)
}

func (s *Session) LaunchROM(ctx context.Context, path, platform string) bool {
	return s.api.LaunchROM(ctx, path, platform)
}

// GetDownloadProgress asks the backend directly; it does not touch the registry.
func (s *Session) GetDownloadProgress(ctx context.Context, romID string) *crocdb.DownloadProgress {
	return s.api.GetDownloadProgress(ctx, romID)
}

// Subscribe forwards to the tracker's event stream.
func (s *Session) Subscribe(buffer int) (<-chan jobs.Event, func()) {
	return s.tracker.Subscribe(buffer)
}

func (s *Session) Downloads() map[string]crocdb.DownloadProgress {
	return s.tracker.Registry().Snapshot()
}

// Polling returns the ROM ids that have a running poll loop, sorted.
func (s *Session) Polling() []string {
	keys := s.tracker.Polling()
	slices.Sort(keys)

	return keys
}

func (s *Session) SearchResults() []crocdb.ROM {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.searchResults)
}

func (s *Session) Platforms() []crocdb.Platform {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.platforms)
}

func (s *Session) LocalROMs() []crocdb.LocalROM {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.localROMs)
}

// Settings returns the last loaded or saved settings, or nil before the first load.
func (s *Session) Settings() *crocdb.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil
	}

	cp := s.settings.Clone()

	return &cp
}

func (s *Session) Emulators() crocdb.EmulatorStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.emulators)
}

func (s *Session) Flags() Flags {
	return Flags{
		IsSearching:        s.isSearching.Load(),
		IsLoadingPlatforms: s.isLoadingPlatforms.Load(),
		IsLoadingLocalROMs: s.isLoadingLocalROMs.Load(),
		IsLoadingSettings:  s.isLoadingSettings.Load(),
	}
}
