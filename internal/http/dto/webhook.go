package dto

import (
	"jobforge.io/notify/internal/model"
)

type CreateWebhookRequest struct {
	URL         string                `json:"url" binding:"required,url,max=2048"`
	Events      []string              `json:"events" binding:"required,min=1"`
	Active      *bool                 `json:"active,omitempty"`
	Secret      string                `json:"secret,omitempty"`
	Filters     *model.WebhookFilters `json:"filters,omitempty"`
	RetryConfig *model.RetryConfig    `json:"retry_config,omitempty"`
}

type UpdateWebhookRequest struct {
	URL         *string               `json:"url,omitempty" binding:"omitempty,url,max=2048"`
	Events      *[]string             `json:"events,omitempty" binding:"omitempty,min=1"`
	Active      *bool                 `json:"active,omitempty"`
	Secret      *string               `json:"secret,omitempty"`
	Filters     *model.WebhookFilters `json:"filters,omitempty"`
	RetryConfig *model.RetryConfig    `json:"retry_config,omitempty"`
}

// WebhookResponse mirrors the registration minus the shared secret, which is
// write-only through the API.
type WebhookResponse struct {
	ID          string                `json:"id"`
	URL         string                `json:"url"`
	Events      []string              `json:"events"`
	Active      bool                  `json:"active"`
	HasSecret   bool                  `json:"has_secret"`
	Filters     *model.WebhookFilters `json:"filters,omitempty"`
	RetryConfig model.RetryConfig     `json:"retry_config"`
	CreatedAt   int64                 `json:"created_at"`
	UpdatedAt   int64                 `json:"updated_at"`
}

func ToWebhookResponse(reg *model.WebhookRegistration) *WebhookResponse {
	return &WebhookResponse{
		ID:          reg.ID,
		URL:         reg.URL,
		Events:      reg.Events,
		Active:      reg.Active,
		HasSecret:   reg.Secret != "",
		Filters:     reg.Filters,
		RetryConfig: reg.RetryConfig,
		CreatedAt:   reg.CreatedAt,
		UpdatedAt:   reg.UpdatedAt,
	}
}

type DeliveryHistoryResponse struct {
	Attempts   []model.WebhookDeliveryAttempt `json:"attempts"`
	TotalCount int64                          `json:"total_count"`
}
