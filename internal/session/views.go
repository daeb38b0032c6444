package session

import (
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/crocstore/internal/crocdb"
)

// Sort orders accepted by FilterLocalROMs.
const (
	SortByName     = "name"
	SortByPlatform = "platform"
	SortByModified = "modified"
	SortBySize     = "size"
)

// DownloadEntry is a registry entry prepared for display.
type DownloadEntry struct {
	ROMID          string                  `json:"rom_id"`
	StatusText     string                  `json:"status_text"`
	SizeText       string                  `json:"size_text"`
	DownloadedText string                  `json:"downloaded_text"`
	Job            crocdb.DownloadProgress `json:"job"`
}

// DownloadGroups splits the registry the way the downloads view shows it.
type DownloadGroups struct {
	Active    []DownloadEntry `json:"active"`
	Completed []DownloadEntry `json:"completed"`
	Failed    []DownloadEntry `json:"failed"`
}

// GroupDownloads buckets jobs into active, completed and failed, each sorted
// by ROM id. Jobs with an unknown status are left out.
func GroupDownloads(downloads map[string]crocdb.DownloadProgress) DownloadGroups {
	groups := DownloadGroups{
		Active:    []DownloadEntry{},
		Completed: []DownloadEntry{},
		Failed:    []DownloadEntry{},
	}

	keys := make([]string, 0, len(downloads))
	for k := range downloads {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		job := downloads[k]
		entry := DownloadEntry{
			ROMID:          k,
			StatusText:     StatusText(job.Status),
			SizeText:       FormatSize(job.TotalSize),
			DownloadedText: FormatSize(job.DownloadedSize),
			Job:            job,
		}

		switch {
		case job.Status.IsActive():
			groups.Active = append(groups.Active, entry)
		case job.Status == crocdb.StatusCompleted:
			groups.Completed = append(groups.Completed, entry)
		case job.Status == crocdb.StatusError:
			groups.Failed = append(groups.Failed, entry)
		}
	}

	return groups
}

// StatusText is the label shown next to a job.
func StatusText(s crocdb.Status) string {
	switch s {
	case crocdb.StatusStarting:
		return "Starting..."
	case crocdb.StatusDownloading:
		return "Downloading..."
	case crocdb.StatusCompleted:
		return "Completed"
	case crocdb.StatusError:
		return "Failed"
	default:
		return "Unknown"
	}
}

// FormatSize renders a byte count in binary units, e.g. "1.0 MiB".
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}

	return humanize.IBytes(uint64(bytes))
}

// FilterLocalROMs keeps the ROMs of platform (all when empty) and sorts them.
// name and platform sort ascending, modified and size descending; any other
// value keeps the backend order. The input is not modified.
func FilterLocalROMs(roms []crocdb.LocalROM, platform, sortBy string) []crocdb.LocalROM {
	out := make([]crocdb.LocalROM, 0, len(roms))

	for _, rom := range roms {
		if platform == "" || rom.Platform == platform {
			out = append(out, rom)
		}
	}

	var less func(a, b crocdb.LocalROM) bool

	switch sortBy {
	case SortByName:
		less = func(a, b crocdb.LocalROM) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case SortByPlatform:
		less = func(a, b crocdb.LocalROM) bool { return strings.ToLower(a.Platform) < strings.ToLower(b.Platform) }
	case SortByModified:
		less = func(a, b crocdb.LocalROM) bool { return a.Modified > b.Modified }
	case SortBySize:
		less = func(a, b crocdb.LocalROM) bool { return a.Size > b.Size }
	default:
		return out
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })

	return out
}

// LocalPlatforms returns the distinct platforms of roms, sorted.
func LocalPlatforms(roms []crocdb.LocalROM) []string {
	seen := map[string]struct{}{}
	platforms := []string{}

	for _, rom := range roms {
		if _, ok := seen[rom.Platform]; ok {
			continue
		}

		seen[rom.Platform] = struct{}{}
		platforms = append(platforms, rom.Platform)
	}

	sort.Strings(platforms)

	return platforms
}

// LocalSummary is the header of the local library view.
type LocalSummary struct {
	Count         int      `json:"count"`
	Platforms     []string `json:"platforms"`
	TotalSize     int64    `json:"total_size"`
	TotalSizeText string   `json:"total_size_text"`
}

func SummarizeLocalROMs(roms []crocdb.LocalROM) LocalSummary {
	var total int64
	for _, rom := range roms {
		total += rom.Size
	}

	return LocalSummary{
		Count:         len(roms),
		Platforms:     LocalPlatforms(roms),
		TotalSize:     total,
		TotalSizeText: FormatSize(total),
	}
}
