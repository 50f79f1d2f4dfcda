package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// SenderConfig configures the server sink.
type SenderConfig struct {
	// URL is the capture endpoint events are POSTed to.
	URL string

	// Timeout bounds one delivery attempt.
	Timeout time.Duration

	// Format selects stills or a single clip per event.
	Format Format
}

// Sender delivers events to a remote server as one multipart POST: a JSON
// meta part followed by the image parts.
type Sender struct {
	cfg    SenderConfig
	client *http.Client
}

// NewSender builds the server sink.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sender sink requires a server URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Format == "" {
		cfg.Format = FormatStills
	}
	return &Sender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Deliver posts the event. Any non-2xx response is an error; the caller
// keeps the recovery record so delivery is retried on the next start.
func (s *Sender) Deliver(ctx context.Context, ev *Event) error {
	frames := ev.Sequence.AnimalOrContextFrames()
	if len(frames) == 0 {
		return fmt.Errorf("event %s has no deliverable frames", ev.ID)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	captions, err := MarshalCaptions(frames, ev.SensorLog)
	if err != nil {
		return fmt.Errorf("failed to marshal captions: %w", err)
	}
	meta, err := json.Marshal(map[string]interface{}{
		"id":         ev.ID,
		"started_at": ev.Sequence.StartedAt,
		"priority":   ev.Sequence.Priority(),
		"frames":     len(frames),
		"format":     string(s.cfg.Format),
		"captions":   json.RawMessage(captions),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event meta: %w", err)
	}
	metaPart, err := mw.CreateFormField("meta")
	if err != nil {
		return fmt.Errorf("failed to create meta part: %w", err)
	}
	if _, err := metaPart.Write(meta); err != nil {
		return fmt.Errorf("failed to write meta part: %w", err)
	}

	if s.cfg.Format == FormatVideo {
		part, err := mw.CreateFormFile("clip", "clip.mjpeg")
		if err != nil {
			return fmt.Errorf("failed to create clip part: %w", err)
		}
		for _, f := range frames {
			img, err := frameImage(f)
			if err != nil {
				return err
			}
			if _, err := part.Write(img); err != nil {
				return fmt.Errorf("failed to write clip part: %w", err)
			}
		}
	} else {
		for i, f := range frames {
			img, err := frameImage(f)
			if err != nil {
				return err
			}
			part, err := mw.CreateFormFile("images", fmt.Sprintf("%05d_%s.jpg", i, f.Label))
			if err != nil {
				return fmt.Errorf("failed to create image part: %w", err)
			}
			if _, err := part.Write(img); err != nil {
				return fmt.Errorf("failed to write image part: %w", err)
			}
		}
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finalise multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, &body)
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server rejected event %s: %s", ev.ID, resp.Status)
	}
	return nil
}
