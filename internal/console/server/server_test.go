package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/audit"
	"github.com/xela07ax/dz-approval-bridge/internal/catalog"
	"github.com/xela07ax/dz-approval-bridge/internal/console/handler"
	"github.com/xela07ax/dz-approval-bridge/internal/console/service"
	"github.com/xela07ax/dz-approval-bridge/internal/domain"
	"github.com/xela07ax/dz-approval-bridge/internal/engine"
	"github.com/xela07ax/dz-approval-bridge/internal/repository/postgres"
)

// tokenValidator: токен — это список scope через запятую
type tokenValidator struct{}

func (tokenValidator) VerifyToken(tok string) (*domain.CustomClaims, error) {
	tok = strings.TrimPrefix(tok, "Bearer ")
	if tok == "bad" {
		return nil, errors.New("invalid token")
	}
	scopes := map[string]bool{}
	for _, s := range strings.Split(tok, ",") {
		scopes[s] = true
	}
	return &domain.CustomClaims{UserID: "op", Scopes: scopes}, nil
}

type fakeExecutor struct {
	res  engine.Result
	cmds []domain.Command
}

func (f *fakeExecutor) Execute(_ context.Context, cmd domain.Command, _ json.RawMessage) engine.Result {
	f.cmds = append(f.cmds, cmd)
	return f.res
}

type fakeChanger struct {
	got  domain.StatusChangeRequest
	resp domain.StatusChangeResponse
	err  error
}

func (f *fakeChanger) Apply(_ context.Context, req domain.StatusChangeRequest) (domain.StatusChangeResponse, error) {
	f.got = req
	return f.resp, f.err
}

type fakeOutcomes struct {
	filter postgres.OutcomeFilter
	events []audit.OutcomeEvent
	err    error
}

func (f *fakeOutcomes) FetchOutcomes(_ context.Context, flt postgres.OutcomeFilter) ([]audit.OutcomeEvent, error) {
	f.filter = flt
	return f.events, f.err
}

type fakeController struct {
	group    string
	operator string
	paused   *bool
}

func (f *fakeController) SetPaused(_ context.Context, group, operator string, paused bool) error {
	f.group, f.operator, f.paused = group, operator, &paused
	return nil
}

type recordingAuditor struct{ events []audit.OutcomeEvent }

func (a *recordingAuditor) Record(e audit.OutcomeEvent) { a.events = append(a.events, e) }

type env struct {
	srv      *ConsoleServer
	exec     *fakeExecutor
	changer  *fakeChanger
	outcomes *fakeOutcomes
	auditor  *recordingAuditor
	control  *fakeController
}

func newEnv() *env {
	e := &env{
		exec:     &fakeExecutor{},
		changer:  &fakeChanger{},
		outcomes: &fakeOutcomes{},
		auditor:  &recordingAuditor{},
		control:  &fakeController{},
	}
	cmdSvc := service.NewCommandService(e.exec, e.auditor, "MOCK_ACCEPT", zap.NewNop())
	e.srv = NewConsoleServer(zap.NewNop(), tokenValidator{},
		handler.NewCommandHandler(cmdSvc),
		handler.NewStatusHandler(e.changer),
		handler.NewAuditHandler(service.NewAuditService(e.outcomes)),
		handler.NewControlHandler(e.control))
	return e
}

func (e *env) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	rec := newEnv().do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthAndScopes(t *testing.T) {
	e := newEnv()
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/v1/workflow/commands", "", `{}`).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/v1/workflow/commands", "bad", `{}`).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/v1/workflow/commands", domain.ScopeAuditRead, `{}`).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/v1/subscriptions/status", domain.ScopeWorkflowExecute, `{}`).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/v1/outcomes", domain.ScopeWorkflowExecute, "").Code)
	assert.Empty(t, e.exec.cmds)
}

func TestExecuteCommand(t *testing.T) {
	cases := []struct {
		name  string
		res   engine.Result
		code  int
		check func(t *testing.T, body string)
	}{
		{
			name: "success returns response data",
			res: engine.Result{Disposition: engine.Succeeded, Response: &domain.ResponseData{
				StatusCode: 200, DomainID: "d", SubscriptionReqID: "r", IssueKey: "DZ-1",
			}},
			code: http.StatusOK,
			check: func(t *testing.T, body string) {
				assert.JSONEq(t, `{"statusCode":200,"domain_id":"d","subscription_req_id":"r","issue_key":"DZ-1"}`, body)
			},
		},
		{
			name: "validation",
			res:  engine.Result{Disposition: engine.Failed, Failure: engine.FailureValidation, Reason: "Missing 'issue_key' in the event data."},
			code: http.StatusUnprocessableEntity,
			check: func(t *testing.T, body string) {
				assert.Contains(t, body, "Error. Missing 'issue_key'")
			},
		},
		{
			name: "rejected",
			res:  engine.Result{Disposition: engine.Failed, Failure: engine.FailureRejected, Reason: "Bad request"},
			code: http.StatusBadGateway,
			check: func(t *testing.T, body string) {
				assert.Contains(t, body, "ExternalWorkflowRespondedWithNOK. Bad request")
			},
		},
		{
			name: "unreachable",
			res:  engine.Result{Disposition: engine.Halted, Reason: "Jira is not reachable"},
			code: http.StatusServiceUnavailable,
		},
		{
			name: "unexpected",
			res:  engine.Result{Disposition: engine.Failed, Failure: engine.FailureUnexpected, Reason: "boom"},
			code: http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv()
			e.exec.res = tc.res

			rec := e.do(http.MethodPost, "/v1/workflow/commands", domain.ScopeWorkflowExecute,
				`{"Command":"GET_ISSUE_STATUS","Payload":{"issue_key":"DZ-1"}}`)
			assert.Equal(t, tc.code, rec.Code)
			if tc.check != nil {
				tc.check(t, rec.Body.String())
			}

			require.Equal(t, []domain.Command{domain.CommandGetIssueStatus}, e.exec.cmds)
			require.Len(t, e.auditor.events, 1)
			assert.Equal(t, "console", e.auditor.events[0].GroupID)
			assert.NotEmpty(t, e.auditor.events[0].MessageID)
		})
	}
}

func TestExecuteCommand_BadBody(t *testing.T) {
	e := newEnv()
	rec := e.do(http.MethodPost, "/v1/workflow/commands", domain.ScopeWorkflowExecute, `{nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, e.exec.cmds)
}

func TestStatusChange(t *testing.T) {
	t.Run("flat body", func(t *testing.T) {
		e := newEnv()
		e.changer.resp = domain.StatusChangeResponse{StatusCode: 200, StatusChangeReason: domain.NoRelevantChange}

		rec := e.do(http.MethodPost, "/v1/subscriptions/status", domain.ScopeSubscriptionEdit,
			`{"domain_id":"d","issue_key":"DZ-1","subscription_req_id":"r","approver":null,"approval_status":"Pending"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"statusCode":200,"status_change_reason":"No relevant change in status."}`, rec.Body.String())
		assert.Equal(t, "r", e.changer.got.SubscriptionReqID)
		assert.Nil(t, e.changer.got.Approver)
		assert.Equal(t, "Pending", domain.StrValue(e.changer.got.ApprovalStatus))
	})

	t.Run("wrapped in Payload", func(t *testing.T) {
		e := newEnv()
		rec := e.do(http.MethodPost, "/v1/subscriptions/status", domain.ScopeSubscriptionEdit,
			`{"Payload":{"domain_id":"d","issue_key":"DZ-2","subscription_req_id":"r2","approver":"Jane","approval_status":"Accepted"}}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "DZ-2", e.changer.got.IssueKey)
		assert.Equal(t, "Jane", domain.StrValue(e.changer.got.Approver))
	})

	t.Run("errors", func(t *testing.T) {
		cases := []struct {
			err  error
			code int
		}{
			{domain.NewValidationError("subscription_req_id", "required"), http.StatusUnprocessableEntity},
			{&catalog.APIError{StatusCode: 409, Code: "ConflictException", Message: "already decided"}, http.StatusBadGateway},
			{errors.New("boom"), http.StatusInternalServerError},
		}
		for _, tc := range cases {
			e := newEnv()
			e.changer.err = tc.err
			rec := e.do(http.MethodPost, "/v1/subscriptions/status", domain.ScopeSubscriptionEdit, `{"approval_status":"Accepted"}`)
			assert.Equal(t, tc.code, rec.Code, tc.err.Error())
		}
	})
}

func TestOutcomes(t *testing.T) {
	e := newEnv()
	e.outcomes.events = []audit.OutcomeEvent{{MessageID: "1-0", Disposition: audit.DispositionSucceeded}}

	rec := e.do(http.MethodGet, "/v1/outcomes?domain_id=d&message_id=1-0&limit=10", domain.ScopeAuditRead, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, postgres.OutcomeFilter{MessageID: "1-0", DomainID: "d", Limit: 10}, e.outcomes.filter)

	var got []audit.OutcomeEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, audit.DispositionSucceeded, got[0].Disposition)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/v1/outcomes?limit=x", domain.ScopeAuditRead, "").Code)

	e.outcomes.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, e.do(http.MethodGet, "/v1/outcomes", domain.ScopeAuditRead, "").Code)
}

func TestQueueControl(t *testing.T) {
	e := newEnv()
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/v1/queue/bridge/pause", domain.ScopeAuditRead, "").Code)
	assert.Nil(t, e.control.paused)

	rec := e.do(http.MethodPost, "/v1/queue/bridge/pause", domain.ScopeQueueControl, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"group":"bridge","paused":true}`, rec.Body.String())
	assert.Equal(t, "bridge", e.control.group)
	assert.Equal(t, "op", e.control.operator)
	require.NotNil(t, e.control.paused)
	assert.True(t, *e.control.paused)

	rec = e.do(http.MethodPost, "/v1/queue/bridge/resume", domain.ScopeQueueControl, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, *e.control.paused)
}
