// Package templatestore reads email templates from the TaskFlow template
// service. Templates are read-only here; a campaign never mutates them.
package templatestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskflow/mailcenter/internal/config"
	"github.com/taskflow/mailcenter/internal/models"
)

// Client is a template service API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a template service client.
func NewClient(cfg config.TemplatesConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListTemplates returns the templates available for campaigns.
func (c *Client) ListTemplates(ctx context.Context) ([]models.Template, error) {
	var resp struct {
		Templates []models.Template `json:"templates"`
	}
	if err := c.get(ctx, "/api/v1/templates", &resp); err != nil {
		return nil, err
	}
	return resp.Templates, nil
}

// GetTemplate returns one template by id.
func (c *Client) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var tmpl models.Template
	if err := c.get(ctx, "/api/v1/templates/"+id, &tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// ProviderConfig reports whether the transactional mail provider is
// configured, shown as a connectivity indicator in the wizard.
type ProviderConfig struct {
	BrevoConfigured bool `json:"brevoConfigured"`
}

// GetConfig returns the provider connectivity indicator.
func (c *Client) GetConfig(ctx context.Context) (*ProviderConfig, error) {
	var cfg ProviderConfig
	if err := c.get(ctx, "/api/v1/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
