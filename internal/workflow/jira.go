package workflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/domain"
	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

// Тексты отказов Jira. Оркестратор и люди ищут по ним причину, поэтому менять их нельзя.
const (
	jiraBadRequest   = "Bad request. This can happen if request is missing required fields, has invalid field values or is invalid for any other reason."
	jiraUnauthorized = "Unauthorized. The authentication credentials are incorrect or missing."
	jiraForbidden    = "Forbidden. The user does not have the necessary permission to create a ticket."
	jiraNotFound     = "Not Found. Returned if the issue is not found or the user does not have permission to view it."
	jiraRateLimit    = "Jira Rate Limit Response."
)

// JiraClient — Workflow Client поверх Jira REST API v2 (latest).
type JiraClient struct {
	url         string
	projectKey  string
	issueTypeID string
	authHeader  string
	transport   *Transport
	logger      *zap.Logger
}

func NewJiraClient(cfg infra.JiraConfig, creds infra.JiraCredentials, transport *Transport, logger *zap.Logger) *JiraClient {
	token := base64.StdEncoding.EncodeToString([]byte(creds.Admin + ":" + creds.Token))
	return &JiraClient{
		url:         cfg.URL(),
		projectKey:  cfg.ProjectKey,
		issueTypeID: cfg.IssueTypeID,
		authHeader:  "Basic " + token,
		transport:   transport,
		logger:      logger.With(zap.String("mod", "jira")),
	}
}

func (c *JiraClient) Name() string { return string(infra.BackendJira) }

type jiraRef struct {
	Key string `json:"key,omitempty"`
	ID  string `json:"id,omitempty"`
}

type jiraFields struct {
	Project     jiraRef  `json:"project"`
	Assignee    jiraRef  `json:"assignee"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	IssueType   jiraRef  `json:"issuetype"`
	Labels      []string `json:"labels"`
}

type jiraIssueRequest struct {
	Fields jiraFields `json:"fields"`
}

type jiraCreated struct {
	Key string `json:"key"`
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Status *struct {
			Name *string `json:"name"`
		} `json:"status"`
		Assignee *struct {
			DisplayName *string `json:"displayName"`
		} `json:"assignee"`
	} `json:"fields"`
}

func (c *JiraClient) CreateTicket(ctx context.Context, req *domain.ApprovalRequest, assignee string) (Outcome[string], error) {
	body, err := json.Marshal(jiraIssueRequest{Fields: jiraFields{
		Project:     jiraRef{Key: c.projectKey},
		Assignee:    jiraRef{ID: assignee},
		Summary:     "DataZone Subscription Request Created for " + req.CatalogName,
		Description: describe(req),
		IssueType:   jiraRef{ID: c.issueTypeID},
		Labels:      labels(req.OwnerProjectName),
	}})
	if err != nil {
		return Outcome[string]{}, fmt.Errorf("marshal jira issue: %w", err)
	}

	resp, err := c.transport.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		c.setHeaders(r)
		return r, nil
	})
	if err != nil {
		return c.unreachable(err, "create")
	}
	defer drain(resp.Body)

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		raw := peek(resp.Body)
		var created jiraCreated
		if err := json.Unmarshal([]byte(raw), &created); err != nil || created.Key == "" {
			if err == nil {
				err = errors.New("no issue key")
			}
			// Тикет, скорее всего, создан: тело нужно для ручной сверки дубликатов
			c.logger.Error("jira accepted issue but response is unreadable",
				zap.Int("status", status),
				zap.String("domain_id", req.DomainID),
				zap.String("subscription_req_id", req.RequestID),
				zap.String("body", raw),
				zap.Error(err))
			return Outcome[string]{}, fmt.Errorf("decode jira create response (status %d, body %q): %w", status, raw, err)
		}
		c.logger.Info("created new issue", zap.String("issue_key", created.Key))
		return Success(created.Key), nil
	case status == http.StatusBadRequest:
		return Rejected[string](createFailure(status, jiraBadRequest)), nil
	case status == http.StatusUnauthorized:
		return Rejected[string](createFailure(status, jiraUnauthorized)), nil
	case status == http.StatusForbidden:
		return Rejected[string](createFailure(status, jiraForbidden)), nil
	default:
		c.logger.Warn("jira declined issue creation",
			zap.Int("status", status),
			zap.String("body", peek(resp.Body)))
		return Rejected[string](createFailure(status, "")), nil
	}
}

func (c *JiraClient) GetTicketStatus(ctx context.Context, key string) (Outcome[domain.Ticket], error) {
	resp, err := c.transport.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+url.PathEscape(key), nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(r)
		return r, nil
	})
	if err != nil {
		return c.unreachableTicket(err)
	}
	defer drain(resp.Body)

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		var issue jiraIssue
		if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
			return Outcome[domain.Ticket]{}, fmt.Errorf("decode jira issue %s: %w", key, err)
		}
		t := domain.Ticket{Key: key}
		if issue.Fields.Status != nil {
			t.Status = issue.Fields.Status.Name
		}
		if issue.Fields.Assignee != nil {
			t.Assignee = issue.Fields.Assignee.DisplayName
		}
		return Success(t), nil
	case status == http.StatusUnauthorized:
		return Rejected[domain.Ticket](getFailure(status, jiraUnauthorized)), nil
	case status == http.StatusNotFound:
		return Rejected[domain.Ticket](getFailure(status, jiraNotFound)), nil
	default:
		return Rejected[domain.Ticket](getFailure(status, "")), nil
	}
}

func (c *JiraClient) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	r.Header.Set("Authorization", c.authHeader)
}

// unreachable разделяет недоступность бэкенда и непредвиденные ошибки (например, кривой URL).
func (c *JiraClient) unreachable(err error, op string) (Outcome[string], error) {
	if !IsUnreachable(err) {
		return Outcome[string]{}, fmt.Errorf("jira %s: %w", op, err)
	}
	c.logger.Warn("jira is unreachable", zap.String("op", op), zap.Error(err))
	return Unreachable[string](unreachableReason(err)), nil
}

func (c *JiraClient) unreachableTicket(err error) (Outcome[domain.Ticket], error) {
	if !IsUnreachable(err) {
		return Outcome[domain.Ticket]{}, fmt.Errorf("jira get: %w", err)
	}
	c.logger.Warn("jira is unreachable", zap.String("op", "get"), zap.Error(err))
	return Unreachable[domain.Ticket](unreachableReason(err)), nil
}

func unreachableReason(err error) string {
	var thErr *ThrottleError
	if errors.As(err, &thErr) {
		return fmt.Sprintf("Error. Server responded with %d. %s", http.StatusTooManyRequests, jiraRateLimit)
	}
	return "Error. Jira is not reachable. " + err.Error()
}

func createFailure(status int, text string) string {
	return failure("Could not create a jira issue", status, text)
}

func getFailure(status int, text string) string {
	return failure("Could not get issue", status, text)
}

func failure(what string, status int, text string) string {
	msg := fmt.Sprintf("Error. %s. Server responded with %d.", what, status)
	if text != "" {
		msg += " " + text
	}
	return msg
}

// labels — метка Jira не может содержать пробелы.
func labels(ownerProject string) []string {
	l := strings.Join(strings.Fields(ownerProject), "_")
	if l == "" {
		return []string{}
	}
	return []string{l}
}

// describe рендерит заявку в Jira wiki markup.
func describe(r *domain.ApprovalRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "{*}Request type:{*} DataZone Subscription Request Created on {*}domain Id:{*} %s\n \n", r.DomainID)
	b.WriteString(" {*}With request information{*} : \n")
	fmt.Fprintf(&b, "{*}Request Id:{*} %s \n", r.RequestID)
	fmt.Fprintf(&b, "{*}Requester Details:{*} %s \n", r.RequesterDetails)
	fmt.Fprintf(&b, "{*}Requester Type:{*} %s \n", r.RequesterType)
	fmt.Fprintf(&b, "{*}Project subscriber:{*} %s \n", r.SubscriberProjectName)
	fmt.Fprintf(&b, "{*}Request Date:{*}: %s \n", r.RequestDate)
	fmt.Fprintf(&b, "{*}Request Reason:{*} %s \n\n", r.RequestReason)
	b.WriteString("{*}Details about target data:{*}  \n \n")
	fmt.Fprintf(&b, "{*}Target Data Type:{*} %s\n", r.DataType)
	fmt.Fprintf(&b, "{*}Data Technical Name:{*} %s\n", r.TechnicalName)
	fmt.Fprintf(&b, "{*}Data Table Arn:{*} %s\n", r.TableARN)
	fmt.Fprintf(&b, "{*}Data Database Name:{*} %s\n", r.DatabaseName)
	fmt.Fprintf(&b, "{*}Data Bucket:{*} %s\n", r.BucketLocation)
	fmt.Fprintf(&b, "{*}Data Account:{*} %s\n", r.Account)
	fmt.Fprintf(&b, "{*}Data Region:{*} %s\n", r.Region)
	fmt.Fprintf(&b, "{*}Data Project Name:{*} %s", r.OwnerProjectName)
	return b.String()
}

// peek читает не больше 4 KiB тела ответа.
func peek(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	return string(data)
}
