package printer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnauthorized = errors.New("printer host rejected the api key")
	ErrConflict     = errors.New("printer host cannot perform this right now")
)

// Client talks to an OctoPrint-compatible REST API on the printer host.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// State is the printer-level status.
type State struct {
	Text  string `json:"text"`
	Flags struct {
		Operational bool `json:"operational"`
		Printing    bool `json:"printing"`
		Paused      bool `json:"paused"`
		Error       bool `json:"error"`
	} `json:"flags"`
}

type Temps struct {
	Bed struct {
		Actual float64 `json:"actual"`
		Target float64 `json:"target"`
	} `json:"bed"`
	Tool0 struct {
		Actual float64 `json:"actual"`
		Target float64 `json:"target"`
	} `json:"tool0"`
}

type printerResponse struct {
	State       State `json:"state"`
	Temperature Temps `json:"temperature"`
}

// Job is the current job status.
type Job struct {
	File struct {
		Name string `json:"name"`
	} `json:"file"`
}

type jobResponse struct {
	Job      Job    `json:"job"`
	Progress struct {
		Completion float64 `json:"completion"`
	} `json:"progress"`
	State string `json:"state"`
}

// Status is the condensed snapshot the agent reports upstream.
type Status struct {
	Text     string
	Printing bool
	Paused   bool
	FileName string
	Progress float64
	BedTemp  float64
	ToolTemp float64
}

// Status merges /api/printer and /api/job into one snapshot.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var pr printerResponse
	if err := c.get(ctx, "/api/printer", &pr); err != nil {
		return nil, fmt.Errorf("failed to query printer state: %w", err)
	}

	var jr jobResponse
	if err := c.get(ctx, "/api/job", &jr); err != nil {
		return nil, fmt.Errorf("failed to query job state: %w", err)
	}

	return &Status{
		Text:     pr.State.Text,
		Printing: pr.State.Flags.Printing,
		Paused:   pr.State.Flags.Paused,
		FileName: jr.Job.File.Name,
		Progress: jr.Progress.Completion,
		BedTemp:  pr.Temperature.Bed.Actual,
		ToolTemp: pr.Temperature.Tool0.Actual,
	}, nil
}

// Pause pauses the running job.
func (c *Client) Pause(ctx context.Context) error {
	return c.jobCommand(ctx, map[string]string{"command": "pause", "action": "pause"})
}

// Resume resumes a paused job.
func (c *Client) Resume(ctx context.Context) error {
	return c.jobCommand(ctx, map[string]string{"command": "pause", "action": "resume"})
}

// Cancel aborts the running job.
func (c *Client) Cancel(ctx context.Context) error {
	return c.jobCommand(ctx, map[string]string{"command": "cancel"})
}

func (c *Client) jobCommand(ctx context.Context, body map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/job", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("job command failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return statusErr(resp.StatusCode)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := statusErr(resp.StatusCode); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusErr(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusConflict:
		return ErrConflict
	case code >= 400:
		return fmt.Errorf("printer host returned status %d", code)
	}
	return nil
}
