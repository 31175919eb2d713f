// Package vmapi is the client for the external VM metadata service used to
// validate machine ownership.
package vmapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// ErrVMNotFound reports a clean miss from the metadata service.
var ErrVMNotFound = errors.New("vmapi: vm not found")

// VM is the subset of VM metadata the master consumes.
type VM struct {
	UUID      string `json:"uuid"`
	OwnerUUID string `json:"owner_uuid"`
	ServerUUID string `json:"server_uuid"`
	State     string `json:"state"`
}

// Metadata is the contract the probe model consumes.
type Metadata interface {
	GetVM(ctx context.Context, vmUUID string) (*VM, error)
}

// Client is an HTTP client for the VM metadata service, guarded by a
// circuit breaker so a down collaborator fails fast instead of pinning
// request goroutines.
type Client struct {
	base string
	http *http.Client
	cb   *gobreaker.CircuitBreaker[*VM]
	log  *logger.Logger
}

var _ Metadata = (*Client)(nil)

// New builds a client for the service at base.
func New(base string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault("vmapi")
	}
	cb := gobreaker.NewCircuitBreaker[*VM](gobreaker.Settings{
		Name:    "vmapi",
		Timeout: 30 * time.Second,
		// A clean miss is a healthy answer, not a service failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrVMNotFound)
		},
	})
	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
		cb:   cb,
		log:  log,
	}
}

// GetVM fetches VM metadata by UUID. A 404 maps to ErrVMNotFound; anything
// else that is not a 200 is an operational failure.
func (c *Client) GetVM(ctx context.Context, vmUUID string) (*VM, error) {
	return c.cb.Execute(func() (*VM, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/vms/%s", c.base, vmUUID), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			var vm VM
			if err := json.NewDecoder(resp.Body).Decode(&vm); err != nil {
				return nil, fmt.Errorf("vmapi decode: %w", err)
			}
			return &vm, nil
		case http.StatusNotFound:
			return nil, ErrVMNotFound
		default:
			return nil, fmt.Errorf("vmapi GET /vms/%s: status %d", vmUUID, resp.StatusCode)
		}
	})
}
