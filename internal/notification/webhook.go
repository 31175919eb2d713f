package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// Webhook POSTs notifications to a user-supplied URL. It accepts any
// attribute whose name starts with "webhook"; the attribute value is the
// target URL.
type Webhook struct {
	http *http.Client
	log  *logger.Logger
}

// NewWebhook builds the webhook plugin. Config keys: timeoutSeconds
// (optional).
func NewWebhook(cfg map[string]string, log *logger.Logger) *Webhook {
	timeout := 10 * time.Second
	if v := cfg["timeoutSeconds"]; v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			timeout = d
		}
	}
	return &Webhook{
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// AcceptsMedium accepts webhook-prefixed attributes, e.g. "webhook" or
// "webhookpager".
func (w *Webhook) AcceptsMedium(attrName string) bool {
	return strings.HasPrefix(attrName, "webhook")
}

// Notify posts a JSON alert body to the address URL.
func (w *Webhook) Notify(ctx context.Context, probeName, address, message string) error {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		return fmt.Errorf("webhook address %q is not an http(s) URL", address)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"probe":   probeName,
		"message": message,
		"time":    time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post: status %d", resp.StatusCode)
	}
	return nil
}
