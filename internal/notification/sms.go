package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// SMS delivers notifications through an HTTP SMS gateway. It accepts
// addresses stored under the "phone" and "sms" user attributes.
type SMS struct {
	gatewayURL string
	http       *http.Client
	log        *logger.Logger
}

// NewSMS builds the sms plugin. Config keys: gatewayUrl.
func NewSMS(cfg map[string]string, log *logger.Logger) (*SMS, error) {
	url := cfg["gatewayUrl"]
	if url == "" {
		return nil, fmt.Errorf("gatewayUrl is required")
	}
	return &SMS{
		gatewayURL: url,
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}, nil
}

// AcceptsMedium accepts phone-shaped attributes.
func (s *SMS) AcceptsMedium(attrName string) bool {
	return attrName == "phone" || attrName == "sms"
}

// Notify posts the message to the gateway.
func (s *SMS) Notify(ctx context.Context, probeName, address, message string) error {
	payload, err := json.Marshal(map[string]string{
		"to":   address,
		"body": fmt.Sprintf("%s: %s", probeName, message),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway: status %d", resp.StatusCode)
	}
	return nil
}
