package crocdb

// Status is the lifecycle state of a download job.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// IsActive reports whether the job is still expected to change.
func (s Status) IsActive() bool {
	return s == StatusStarting || s == StatusDownloading
}

// IsTerminal reports whether the job finished, successfully or not.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// DownloadProgress is the backend's snapshot of one download job.
type DownloadProgress struct {
	Status         Status `json:"status"`
	Progress       int    `json:"progress"`
	TotalSize      int64  `json:"total_size"`
	DownloadedSize int64  `json:"downloaded_size"`
	Filename       string `json:"filename"`
	FinalPath      string `json:"final_path,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ROM is a catalog record. Size is a display string chosen by the backend.
type ROM struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Platform    string `json:"platform"`
	Region      string `json:"region"`
	Language    string `json:"language"`
	Size        string `json:"size"`
	Description string `json:"description"`
	DownloadURL string `json:"download_url"`
	ImageURL    string `json:"image_url"`
}

type Platform struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
}

// LocalROM is a ROM file already present on the device.
type LocalROM struct {
	Name     string  `json:"name"`
	Platform string  `json:"platform"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"` // seconds since the epoch
}

// EmulatorStatus maps an emulator name to whether it was found on the device.
type EmulatorStatus map[string]bool
