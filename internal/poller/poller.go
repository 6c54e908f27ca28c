// Package poller keeps a client view of a discussion fresh by periodic refetching.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"incidentdesk/internal/models"
)

const DefaultInterval = 5 * time.Second

// Fetcher loads the current message list of a discussion.
type Fetcher interface {
	FetchMessages(ctx context.Context, discussionID int64) ([]models.ThreadMessage, error)
}

type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	log      zerolog.Logger
}

func New(fetcher Fetcher, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{fetcher: fetcher, interval: interval, log: log}
}

// Watch fetches right away and then on every tick, calling onUpdate with the
// messages not seen before and those whose status moved since the previous
// fetch. Fetch errors are logged and retried on the next tick. Watch returns
// nil once ctx is cancelled.
func (p *Poller) Watch(ctx context.Context, discussionID int64, onUpdate func([]models.ThreadMessage)) error {
	seen := make(map[int64]models.MessageStatus)
	poll := func() {
		messages, err := p.fetcher.FetchMessages(ctx, discussionID)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn().Err(err).Int64("discussion_id", discussionID).Msg("poll failed")
			}
			return
		}
		var changed []models.ThreadMessage
		for _, m := range messages {
			if status, ok := seen[m.ID]; ok && status == m.Status {
				continue
			}
			seen[m.ID] = m.Status
			changed = append(changed, m)
		}
		if len(changed) == 0 {
			return
		}
		onUpdate(changed)
	}

	poll()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			poll()
		}
	}
}

// HTTPFetcher reads messages from the HTTP API with a bearer token.
type HTTPFetcher struct {
	BaseURL string
	Token   string
	// PathTemplate holds one %d for the discussion id.
	PathTemplate string
	Client       *http.Client
}

func NewHTTPFetcher(baseURL, token, pathTemplate string) *HTTPFetcher {
	if pathTemplate == "" {
		pathTemplate = "/api/admins/discussions/%d/messages"
	}
	return &HTTPFetcher{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		PathTemplate: pathTemplate,
		Client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPFetcher) FetchMessages(ctx context.Context, discussionID int64) ([]models.ThreadMessage, error) {
	url := f.BaseURL + fmt.Sprintf(f.PathTemplate, discussionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool          `json:"success"`
		Error   string        `json:"error"`
		Data    models.Thread `json:"data"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !body.Success {
		return nil, fmt.Errorf("fetch messages: status %d: %s", resp.StatusCode, body.Error)
	}
	return body.Data.Messages, nil
}
