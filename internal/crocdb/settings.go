package crocdb

import "slices"

const (
	MinConcurrentLimit = 1
	MaxConcurrentLimit = 10

	defaultConcurrentLimit = 3
)

// Settings are the user preferences persisted by the backend.
type Settings struct {
	AutoOrganize            bool     `json:"auto_organize"`
	AutoLaunch              bool     `json:"auto_launch"`
	PreferredEmulator       string   `json:"preferred_emulator"`
	DownloadConcurrentLimit int      `json:"download_concurrent_limit"`
	Regions                 []string `json:"regions"`
	Languages               []string `json:"languages"`
}

// DefaultSettings returns a fresh copy of the settings used when the backend
// cannot provide any.
func DefaultSettings() Settings {
	return Settings{
		AutoOrganize:            true,
		AutoLaunch:              true,
		PreferredEmulator:       "retroarch",
		DownloadConcurrentLimit: defaultConcurrentLimit,
		Regions:                 []string{"USA", "Europe", "Japan"},
		Languages:               []string{"English"},
	}
}

// Normalize clamps the concurrent download limit into [MinConcurrentLimit, MaxConcurrentLimit]
// and replaces nil lists with empty ones.
func (s Settings) Normalize() Settings {
	switch {
	case s.DownloadConcurrentLimit < MinConcurrentLimit:
		s.DownloadConcurrentLimit = MinConcurrentLimit
	case s.DownloadConcurrentLimit > MaxConcurrentLimit:
		s.DownloadConcurrentLimit = MaxConcurrentLimit
	}

	if s.Regions == nil {
		s.Regions = []string{}
	}

	if s.Languages == nil {
		s.Languages = []string{}
	}

	return s
}

// Clone returns a copy that shares no slices with s.
func (s Settings) Clone() Settings {
	s.Regions = slices.Clone(s.Regions)
	s.Languages = slices.Clone(s.Languages)

	return s
}
