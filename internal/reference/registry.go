package reference

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/medverify/internal/domain"
)

// RegistryClient downloads the catalog from a pharmaceutical registry service that
// serves {"medicines": [...]} at /medicines.
type RegistryClient struct {
	client *resty.Client
	logger *zap.Logger
}

type registryResponse struct {
	Medicines []domain.ReferenceMedicine `json:"medicines"`
}

// NewRegistryClient builds a client with bounded retries.
func NewRegistryClient(baseURL string, timeout time.Duration, logger *zap.Logger) *RegistryClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json")
	return &RegistryClient{client: client, logger: logger.Named("registry")}
}

// Fetch loads and validates the catalog.
func (c *RegistryClient) Fetch(ctx context.Context) (*Database, error) {
	var payload registryResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get("/medicines")
	if err != nil {
		return nil, fmt.Errorf("fetch registry catalog: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch registry catalog: unexpected status %d", resp.StatusCode())
	}
	if len(payload.Medicines) == 0 {
		return nil, domain.ErrEmptyDatabase
	}
	c.logger.Info("registry catalog loaded", zap.Int("medicines", len(payload.Medicines)))
	return NewDatabase(payload.Medicines)
}
