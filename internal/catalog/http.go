package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

// HTTPClient — REST реализация Client.
type HTTPClient struct {
	baseURL string
	token   string
	roleARN string
	hc      *http.Client
	logger  *zap.Logger
}

func NewHTTPClient(cfg infra.CatalogConfig, hc *http.Client, logger *zap.Logger) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		hc:      hc,
		logger:  logger.With(zap.String("mod", "catalog")),
	}
}

// WithRole — копия клиента, действующая от имени кросс-аккаунтной роли.
// Менять статус подписки можно только с ней.
func (c *HTTPClient) WithRole(roleARN string) *HTTPClient {
	cp := *c
	cp.roleARN = roleARN
	return &cp
}

func (c *HTTPClient) GetProject(ctx context.Context, domainID, projectID string) (*Project, error) {
	var p Project
	path := fmt.Sprintf("/v2/domains/%s/projects/%s", url.PathEscape(domainID), url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	return &p, nil
}

func (c *HTTPClient) GetUserProfile(ctx context.Context, domainID, userID string, userType UserType) (*UserProfile, error) {
	var u UserProfile
	path := fmt.Sprintf("/v2/domains/%s/users/%s?type=%s",
		url.PathEscape(domainID), url.PathEscape(userID), url.QueryEscape(string(userType)))
	if err := c.do(ctx, http.MethodGet, path, nil, &u); err != nil {
		return nil, fmt.Errorf("get user profile %s: %w", userID, err)
	}
	return &u, nil
}

func (c *HTTPClient) GetSubscriptionRequestDetails(ctx context.Context, domainID, requestID string) (*SubscriptionRequestDetails, error) {
	var d SubscriptionRequestDetails
	path := fmt.Sprintf("/v2/domains/%s/subscription-requests/%s", url.PathEscape(domainID), url.PathEscape(requestID))
	if err := c.do(ctx, http.MethodGet, path, nil, &d); err != nil {
		return nil, fmt.Errorf("get subscription request %s: %w", requestID, err)
	}
	return &d, nil
}

func (c *HTTPClient) AcceptSubscriptionRequest(ctx context.Context, domainID, requestID, comment string) error {
	return c.decide(ctx, domainID, requestID, "accept", comment)
}

func (c *HTTPClient) RejectSubscriptionRequest(ctx context.Context, domainID, requestID, comment string) error {
	return c.decide(ctx, domainID, requestID, "reject", comment)
}

func (c *HTTPClient) decide(ctx context.Context, domainID, requestID, action, comment string) error {
	body := map[string]string{"decisionComment": comment}
	path := fmt.Sprintf("/v2/domains/%s/subscription-requests/%s/%s",
		url.PathEscape(domainID), url.PathEscape(requestID), action)
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("%s subscription request %s: %w", action, requestID, err)
	}
	c.logger.Info("subscription request decided",
		zap.String("domain_id", domainID),
		zap.String("subscription_req_id", requestID),
		zap.String("action", action))
	return nil
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.roleARN != "" {
		req.Header.Set("X-Assume-Role-Arn", c.roleARN)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var eb apiErrorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Message != "" {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Message
		}
		c.logger.Warn("catalog call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code))
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
