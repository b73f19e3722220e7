package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Relchzen/kopcus-dashboard/config"
	"github.com/Relchzen/kopcus-dashboard/model"
)

// Gateway is the remote deal gateway contract the pipeline store depends on.
// GatewayService implements it against the real CRM API; tests substitute a
// scripted fake.
type Gateway interface {
	ListSubmissions(ctx context.Context) ([]model.ContactSubmission, error)
	ListClients(ctx context.Context) ([]model.Client, error)
	ConvertSubmission(ctx context.Context, id string, req ConvertRequest) (*ConvertResult, error)
	UpdateSubmission(ctx context.Context, id string, req SubmissionUpdate) (*model.ContactSubmission, error)
	CreateDeal(ctx context.Context, req CreateDealRequest) (*model.Deal, error)
	UpdateDeal(ctx context.Context, id string, patch model.DealPatch) (*model.Deal, error)
	DeleteDeal(ctx context.Context, id string) error
	DeleteClient(ctx context.Context, id string) error
}

// ConvertRequest is the payload for turning a submission into a client+deal pair.
type ConvertRequest struct {
	ClientName string  `json:"clientName"`
	DealTitle  string  `json:"dealTitle"`
	DealValue  float64 `json:"dealValue"`
}

// ConvertResult carries the gateway's response to a conversion: the submission
// with its cross-reference updated, and the created or updated client.
type ConvertResult struct {
	Submission model.ContactSubmission `json:"submission"`
	Client     model.Client            `json:"client"`
}

// SubmissionUpdate is a partial submission update. Nil fields are omitted.
type SubmissionUpdate struct {
	Status *model.SubmissionStatus `json:"status,omitempty"`
	IsSpam *bool                   `json:"isSpam,omitempty"`
}

// CreateDealRequest is the payload for creating a deal.
type CreateDealRequest struct {
	ClientID    string          `json:"clientId"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Value       float64         `json:"value"`
	Stage       model.DealStage `json:"stage,omitempty"`
}

// envelope is the gateway's uniform response wrapper. success=false is treated
// exactly like a transport failure by callers; no distinction is drawn locally.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type GatewayService struct {
	config     *config.GatewayConfig
	httpClient *http.Client
}

func NewGatewayService(cfg *config.GatewayConfig) *GatewayService {
	return &GatewayService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

// do issues one request and unwraps the response envelope into out. Any
// transport error, non-2xx status or success=false envelope comes back as a
// plain error.
func (s *GatewayService) do(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}

	if !env.Success {
		if env.Message != "" {
			return fmt.Errorf("gateway error: %s", env.Message)
		}
		return fmt.Errorf("gateway reported failure")
	}

	if out != nil {
		if len(env.Data) == 0 {
			return fmt.Errorf("gateway response has no data")
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to parse response data: %w", err)
		}
	}

	return nil
}

// ListSubmissions fetches the full submission collection.
func (s *GatewayService) ListSubmissions(ctx context.Context) ([]model.ContactSubmission, error) {
	var subs []model.ContactSubmission
	if err := s.do(ctx, http.MethodGet, "/crm/submissions", nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// ListClients fetches the full client collection with contacts and deals.
func (s *GatewayService) ListClients(ctx context.Context) ([]model.Client, error) {
	var clients []model.Client
	if err := s.do(ctx, http.MethodGet, "/crm/clients", nil, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

// ConvertSubmission asks the gateway to turn a submission into a client+deal.
func (s *GatewayService) ConvertSubmission(ctx context.Context, id string, req ConvertRequest) (*ConvertResult, error) {
	var result ConvertResult
	if err := s.do(ctx, http.MethodPost, "/crm/submissions/"+id+"/convert", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateSubmission applies a partial update to a submission.
func (s *GatewayService) UpdateSubmission(ctx context.Context, id string, req SubmissionUpdate) (*model.ContactSubmission, error) {
	var sub model.ContactSubmission
	if err := s.do(ctx, http.MethodPatch, "/crm/submissions/"+id, req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateDeal creates a deal for an existing client.
func (s *GatewayService) CreateDeal(ctx context.Context, req CreateDealRequest) (*model.Deal, error) {
	var deal model.Deal
	if err := s.do(ctx, http.MethodPost, "/crm/deals", req, &deal); err != nil {
		return nil, err
	}
	return &deal, nil
}

// UpdateDeal applies a partial update to a deal.
func (s *GatewayService) UpdateDeal(ctx context.Context, id string, patch model.DealPatch) (*model.Deal, error) {
	var deal model.Deal
	if err := s.do(ctx, http.MethodPatch, "/crm/deals/"+id, &patch, &deal); err != nil {
		return nil, err
	}
	return &deal, nil
}

// DeleteDeal removes a deal. The gateway responds with {message} only.
func (s *GatewayService) DeleteDeal(ctx context.Context, id string) error {
	return s.do(ctx, http.MethodDelete, "/crm/deals/"+id, nil, nil)
}

// DeleteClient removes a client; the gateway cascades to its contacts and deals.
func (s *GatewayService) DeleteClient(ctx context.Context, id string) error {
	return s.do(ctx, http.MethodDelete, "/crm/clients/"+id, nil, nil)
}
