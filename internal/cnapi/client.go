// Package cnapi is the client for the external server inventory used to
// decide whether an agent UUID names a physical server.
package cnapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// Inventory is the contract the probe model consumes.
type Inventory interface {
	ServerExists(ctx context.Context, serverUUID string) (bool, error)
}

// Client is an HTTP client for the server inventory, guarded by a circuit
// breaker.
type Client struct {
	base string
	http *http.Client
	cb   *gobreaker.CircuitBreaker[bool]
	log  *logger.Logger
}

var _ Inventory = (*Client)(nil)

// New builds a client for the inventory at base.
func New(base string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault("cnapi")
	}
	cb := gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:    "cnapi",
		Timeout: 30 * time.Second,
	})
	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
		cb:   cb,
		log:  log,
	}
}

// ServerExists reports whether the inventory knows serverUUID. A 404 is a
// clean "no"; other non-200 statuses are operational failures.
func (c *Client) ServerExists(ctx context.Context, serverUUID string) (bool, error) {
	return c.cb.Execute(func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/servers/%s", c.base, serverUUID), nil)
		if err != nil {
			return false, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch resp.StatusCode {
		case http.StatusOK:
			return true, nil
		case http.StatusNotFound:
			return false, nil
		default:
			return false, fmt.Errorf("cnapi GET /servers/%s: status %d", serverUUID, resp.StatusCode)
		}
	})
}
