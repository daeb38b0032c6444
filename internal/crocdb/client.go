// Package crocdb is the typed client for the ROM store backend.
//
// Every method swallows failures: the error is logged and a fallback value
// (empty list, nil, false, default settings or empty map) is returned, so
// callers only ever see data.
package crocdb

import (
	"context"

	"github.com/italolelis/crocstore/internal/logctx"
	"github.com/italolelis/crocstore/internal/rpc"
)

// Backend method names.
const (
	MethodSearchROMs          = "search_roms"
	MethodGetPlatforms        = "get_platforms"
	MethodDownloadROM         = "download_rom"
	MethodGetDownloadProgress = "get_download_progress"
	MethodGetAllDownloads     = "get_all_downloads"
	MethodLaunchROM           = "launch_rom"
	MethodGetLocalROMs        = "get_local_roms"
	MethodGetSettings         = "get_settings"
	MethodSaveSettings        = "save_settings"
	MethodDetectEmulators     = "detect_emulators"
)

type Client struct {
	gateway rpc.Gateway
}

func NewClient(gateway rpc.Gateway) *Client {
	return &Client{gateway: gateway}
}

func (c *Client) call(ctx context.Context, method string, args, out any) bool {
	if err := c.gateway.Call(ctx, method, args, out); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "backend call failed", "method", method, "err", err)

		return false
	}

	return true
}

// SearchROMs queries the catalog. An empty platform searches every platform.
func (c *Client) SearchROMs(ctx context.Context, query, platform string, limit int) []ROM {
	var roms []ROM

	args := map[string]any{"query": query, "platform": platform, "limit": limit}
	if !c.call(ctx, MethodSearchROMs, args, &roms) || roms == nil {
		return []ROM{}
	}

	return roms
}

func (c *Client) GetPlatforms(ctx context.Context) []Platform {
	var platforms []Platform
	if !c.call(ctx, MethodGetPlatforms, nil, &platforms) || platforms == nil {
		return []Platform{}
	}

	return platforms
}

// DownloadROM asks the backend to start downloading rom under romID and
// reports whether it accepted the job.
func (c *Client) DownloadROM(ctx context.Context, romID string, rom ROM) bool {
	var accepted bool

	args := map[string]any{"rom_id": romID, "rom_info": rom}
	if !c.call(ctx, MethodDownloadROM, args, &accepted) {
		return false
	}

	return accepted
}

// GetDownloadProgress returns the backend snapshot for romID, or nil when the
// backend has none. The backend answers an unknown id with an empty object,
// which is treated like null.
func (c *Client) GetDownloadProgress(ctx context.Context, romID string) *DownloadProgress {
	var progress *DownloadProgress
	if !c.call(ctx, MethodGetDownloadProgress, map[string]any{"rom_id": romID}, &progress) {
		return nil
	}

	if progress == nil || progress.Status == "" {
		return nil
	}

	return progress
}

func (c *Client) GetAllDownloads(ctx context.Context) map[string]DownloadProgress {
	var downloads map[string]DownloadProgress
	if !c.call(ctx, MethodGetAllDownloads, nil, &downloads) || downloads == nil {
		return map[string]DownloadProgress{}
	}

	return downloads
}

func (c *Client) LaunchROM(ctx context.Context, path, platform string) bool {
	var launched bool

	args := map[string]any{"rom_path": path, "platform": platform}
	if !c.call(ctx, MethodLaunchROM, args, &launched) {
		return false
	}

	return launched
}

func (c *Client) GetLocalROMs(ctx context.Context) []LocalROM {
	var roms []LocalROM
	if !c.call(ctx, MethodGetLocalROMs, nil, &roms) || roms == nil {
		return []LocalROM{}
	}

	return roms
}

// GetSettings returns the stored settings, or DefaultSettings on failure or
// when the backend has none.
func (c *Client) GetSettings(ctx context.Context) Settings {
	var settings *Settings
	if !c.call(ctx, MethodGetSettings, nil, &settings) || settings == nil {
		return DefaultSettings()
	}

	return *settings
}

func (c *Client) SaveSettings(ctx context.Context, settings Settings) bool {
	var saved bool
	if !c.call(ctx, MethodSaveSettings, map[string]any{"settings": settings}, &saved) {
		return false
	}

	return saved
}

func (c *Client) DetectEmulators(ctx context.Context) EmulatorStatus {
	var emulators EmulatorStatus
	if !c.call(ctx, MethodDetectEmulators, nil, &emulators) || emulators == nil {
		return EmulatorStatus{}
	}

	return emulators
}
