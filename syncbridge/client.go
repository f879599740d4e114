package syncbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"remindly/reminder"
)

// Remote talks to the reminder collaborator that holds reminders
// created out-of-band until they are acknowledged. All calls carry
// Bearer auth.
type Remote struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewRemote(baseURL, apiKey string, timeout time.Duration) *Remote {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// wireReminder is the remote payload shape. NextFireAt arrives as an
// epoch-ms number.
type wireReminder struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	NextFireAt  int64               `json:"nextFireAt"`
	Repeat      reminder.Repeat     `json:"repeat"`
	IntervalMs  int64               `json:"intervalMs"`
	FollowUps   []reminder.FollowUp `json:"followUps"`
	CreatedAt   int64               `json:"createdAt"`
}

// FetchUnsynced returns the remote reminders not yet acknowledged, in
// most-recent-first order. Entries that fail to decode are discarded
// silently; a bad record from an external automation is not worth a
// crash or an alert.
func (c *Remote) FetchUnsynced(ctx context.Context) ([]reminder.Reminder, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/reminders", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Reminders []json.RawMessage `json:"reminders"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed decoding unsynced reminders")
	}

	rs := make([]reminder.Reminder, 0, len(body.Reminders))
	for _, raw := range body.Reminders {
		var w wireReminder
		if err := json.Unmarshal(raw, &w); err != nil || w.ID == "" || w.Title == "" {
			continue
		}
		rs = append(rs, importReminder(w))
	}

	return rs, nil
}

// MarkSynced acknowledges an imported reminder by id so it is excluded
// from future pulls. The remote treats repeat calls as no-ops.
func (c *Remote) MarkSynced(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/reminders/"+id+"/synced", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Remote) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed encoding request body")
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed creating request")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errorData, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote error (status %d): %s", resp.StatusCode, string(errorData))
	}

	return resp, nil
}

// importReminder converts a remote-originated reminder to its local
// form: armed, never fired, recurrence intact.
func importReminder(w wireReminder) reminder.Reminder {
	repeat := w.Repeat
	if repeat == "" {
		repeat = reminder.RepeatNone
	}

	return reminder.Reminder{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		NextFireAt:  w.NextFireAt,
		Repeat:      repeat,
		IntervalMs:  w.IntervalMs,
		FollowUps:   w.FollowUps,
		Enabled:     true,
		CreatedAt:   w.CreatedAt,
	}
}
