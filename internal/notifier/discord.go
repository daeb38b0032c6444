package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/crocstore/internal/crocdb"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// JobMessage renders the notification for a job that reached a terminal
// status. ok is false for jobs that should not be announced.
func JobMessage(romID string, job crocdb.DownloadProgress) (msg string, ok bool) {
	name := job.Filename
	if name == "" {
		name = romID
	}

	switch job.Status {
	case crocdb.StatusCompleted:
		msg = fmt.Sprintf("✅ Download finished for ROM: %s (%s)", name, humanize.IBytes(uint64(max(job.TotalSize, 0))))
		if job.FinalPath != "" {
			msg += "\n" + job.FinalPath
		}

		return msg, true
	case crocdb.StatusError:
		msg = "❌ Download failed for ROM: " + name
		if job.Error != "" {
			msg += ": " + job.Error
		}

		return msg, true
	default:
		return "", false
	}
}
