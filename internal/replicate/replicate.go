// Package replicate is a minimal client for the Replicate predictions API,
// used for image models not offered by OpenAI: sticker rendering, SDXL, and
// background removal.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/neuroscribe/scribebot/internal/config"
)

// ErrPredictionFailed is returned when the model run ends in a terminal
// failure state.
var ErrPredictionFailed = errors.New("prediction failed")

// Client runs Replicate predictions to completion.
type Client interface {
	// Run creates a prediction for the model version and polls it until it
	// finishes, returning the output URLs.
	Run(ctx context.Context, version string, input map[string]any) ([]string, error)
}

type client struct {
	http   *http.Client
	cfg    config.ReplicateConfig
	logger *slog.Logger
}

// New creates a Replicate client from the configuration.
func New(cfg config.ReplicateConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &client{
		http:   &http.Client{Timeout: 30 * time.Second},
		cfg:    cfg,
		logger: logger.With("component", "replicate"),
	}
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

func (c *client) Run(ctx context.Context, version string, input map[string]any) ([]string, error) {
	if version == "" {
		return nil, fmt.Errorf("model version is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	pred, err := c.create(ctx, version, input)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "Prediction created", "prediction_id", pred.ID, "version", version)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		switch pred.Status {
		case "succeeded":
			return decodeOutput(pred.Output)
		case "failed", "canceled":
			c.logger.WarnContext(ctx, "Prediction ended unsuccessfully",
				"prediction_id", pred.ID, "status", pred.Status, "error", pred.Error)
			return nil, fmt.Errorf("%w: %s", ErrPredictionFailed, pred.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		pred, err = c.get(ctx, pred.ID)
		if err != nil {
			return nil, err
		}
	}
}

func (c *client) create(ctx context.Context, version string, input map[string]any) (*prediction, error) {
	body, err := json.Marshal(map[string]any{
		"version": version,
		"input":   input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *client) get(ctx context.Context, id string) (*prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction poll request: %w", err)
	}

	return c.do(req)
}

func (c *client) do(req *http.Request) (*prediction, error) {
	req.Header.Set("Authorization", "Token "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("replicate returned status %d: %s", resp.StatusCode, string(body))
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("failed to decode prediction response: %w", err)
	}
	return &pred, nil
}

// decodeOutput normalizes the model output, which is either one URL or a
// list of URLs depending on the model.
func decodeOutput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("prediction succeeded without output")
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, fmt.Errorf("prediction succeeded without output")
		}
		return []string{single}, nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("failed to decode prediction output: %w", err)
	}
	if len(many) == 0 {
		return nil, fmt.Errorf("prediction succeeded without output")
	}
	return many, nil
}
