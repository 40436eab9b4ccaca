package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/taskflow/mailcenter/internal/config"
	"github.com/taskflow/mailcenter/internal/history"
	"github.com/taskflow/mailcenter/internal/mailer"
	"github.com/taskflow/mailcenter/internal/metrics"
	"github.com/taskflow/mailcenter/internal/models"
	"github.com/taskflow/mailcenter/internal/templatestore"
)

type mockTemplates struct {
	templates map[string]*models.Template
}

func (m *mockTemplates) ListTemplates(ctx context.Context) ([]models.Template, error) {
	out := make([]models.Template, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, *t)
	}
	return out, nil
}

func (m *mockTemplates) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, errors.New("template not found")
	}
	return t, nil
}

func (m *mockTemplates) GetConfig(ctx context.Context) (*templatestore.ProviderConfig, error) {
	return &templatestore.ProviderConfig{BrevoConfigured: true}, nil
}

type mockDirectory struct {
	users []models.User
}

func (m *mockDirectory) ListUsers(ctx context.Context) ([]models.User, error) {
	return m.users, nil
}

func (m *mockDirectory) GetUser(ctx context.Context, id string) (*models.User, error) {
	for i := range m.users {
		if m.users[i].ID == id {
			return &m.users[i], nil
		}
	}
	return nil, errors.New("user not found")
}

type mockHistory struct {
	mu      sync.Mutex
	records []*history.Record
}

func (m *mockHistory) Save(rec *history.Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *mockHistory) Get(id string) (*history.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockHistory) List(limit int) ([]*history.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, nil
}

type mockSender struct {
	mu      sync.Mutex
	sent    []*mailer.Message
	failFor map[string]error
	gate    chan struct{} // when set, Send blocks until closed
}

func (m *mockSender) Send(ctx context.Context, msg *mailer.Message) error {
	if m.gate != nil {
		<-m.gate
	}
	email := msg.Recipients[0].Email
	if err, ok := m.failFor[email]; ok {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func testTemplates() *mockTemplates {
	return &mockTemplates{templates: map[string]*models.Template{
		"t-offer": {
			ID:       "t-offer",
			Name:     "Offer Letter",
			Code:     "OFFER_LETTER",
			Category: models.CategoryHiring,
			Subject:  "Offer for {{candidateName}}",
			HTML:     "<p>Dear {{candidateName}}</p>",
			Variables: []models.VariableInfo{
				{Name: "candidateName", Example: "Jane Doe"},
				{Name: "jobTitle", Example: "Engineer"},
				{Name: "workspaceName"},
			},
		},
		"t-welcome": {
			ID:       "t-welcome",
			Name:     "Welcome",
			Code:     "WELCOME",
			Category: models.CategoryOther,
			Subject:  "Welcome, {{fullName}}",
			HTML:     "<p>Welcome aboard, {{fullName}}.</p>",
		},
		"t-leave": {
			ID:       "t-leave",
			Name:     "Leave Approved",
			Code:     "LEAVE_APPROVED",
			Category: models.CategoryLeave,
			Subject:  "Leave for {{fullName}}",
			HTML:     "<p>{{fullName}}</p>",
			Variables: []models.VariableInfo{
				{Name: "fullName"},
				{Name: "currentDate"},
			},
		},
	}}
}

type testEnv struct {
	server  *Server
	sender  *mockSender
	history *mockHistory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.APIKey = "test-key"
	cfg.Workspace.Name = "Acme"
	cfg.Workspace.AppURL = "https://acme.example.com"
	cfg.Campaign.SessionTTL = time.Hour

	sender := &mockSender{}
	hist := &mockHistory{}
	dir := &mockDirectory{users: []models.User{
		{ID: "u1", Name: "Alex", Email: "alex@acme.com", Department: "Engineering", Role: "Engineer"},
		{ID: "u2", Name: "Sam", Email: "sam@acme.com", Department: "HR", Role: "Manager"},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(cfg, testTemplates(), dir, sender, hist, metrics.New(), logger)

	return &testEnv{server: srv, sender: sender, history: hist}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Authorization", "Bearer test-key")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) CampaignState {
	t.Helper()
	var state CampaignState
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return state
}

func (e *testEnv) createCampaign(t *testing.T) CampaignState {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/campaigns", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create campaign: status %d", w.Code)
	}
	return decodeState(t, w)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d without key, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	req.Header.Set("X-API-Key", "test-key")
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d with X-API-Key, want 200", w.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	env := newTestEnv(t)

	state := env.createCampaign(t)
	if state.Step != 1 {
		t.Errorf("new campaign step = %d, want 1", state.Step)
	}

	base := "/api/v1/campaigns/" + state.ID

	// Selecting a hiring template switches to external mode.
	w := env.do(t, http.MethodPost, base+"/template", map[string]string{"template_id": "t-offer"})
	if w.Code != http.StatusOK {
		t.Fatalf("select template: status %d, body %s", w.Code, w.Body)
	}
	state = decodeState(t, w)
	if state.RecipientMode != "external" {
		t.Errorf("recipient_mode = %q, want external", state.RecipientMode)
	}
	if state.Step != 2 {
		t.Errorf("step = %d after template selection, want 2", state.Step)
	}
	if state.GlobalVariables["candidateName"] != "Jane Doe" {
		t.Errorf("globals = %v, want example seeded", state.GlobalVariables)
	}

	// Empty name is rejected and leaves the store unchanged.
	w = env.do(t, http.MethodPost, base+"/recipients", map[string]string{"name": "", "email": "a@b.com"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("add with empty name: status %d, want 422", w.Code)
	}

	// Advance is blocked while recipients are empty.
	w = env.do(t, http.MethodPost, base+"/advance", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("advance with no recipients: status %d, want 422", w.Code)
	}

	w = env.do(t, http.MethodPost, base+"/recipients", map[string]string{"name": "Jane", "email": "jane@x.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add recipient: status %d", w.Code)
	}
	var jane models.Recipient
	json.NewDecoder(w.Body).Decode(&jane)
	if jane.Variables["candidateName"] != "Jane" {
		t.Errorf("auto-mapped variables = %v", jane.Variables)
	}

	env.do(t, http.MethodPost, base+"/recipients", map[string]string{"name": "Ben", "email": "ben@x.com"})

	w = env.do(t, http.MethodPost, base+"/advance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("advance: status %d", w.Code)
	}
	if state = decodeState(t, w); state.Step != 3 {
		t.Errorf("step = %d, want 3", state.Step)
	}

	// Preview renders with the recipient's merged variables.
	w = env.do(t, http.MethodGet, base+"/preview?recipient_id="+jane.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("preview: status %d", w.Code)
	}
	var preview struct {
		Subject string `json:"subject"`
		HTML    string `json:"html"`
	}
	json.NewDecoder(w.Body).Decode(&preview)
	if preview.Subject != "Offer for Jane" {
		t.Errorf("preview subject = %q, want Offer for Jane", preview.Subject)
	}
}

func TestSendPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sender.failFor = map[string]error{"ben@x.com": errors.New("bounced")}

	state := env.createCampaign(t)
	base := "/api/v1/campaigns/" + state.ID

	env.do(t, http.MethodPost, base+"/template", map[string]string{"template_id": "t-offer"})
	env.do(t, http.MethodPost, base+"/recipients", map[string]string{"name": "Jane", "email": "jane@x.com"})
	env.do(t, http.MethodPost, base+"/recipients", map[string]string{"name": "Ben", "email": "ben@x.com"})
	env.do(t, http.MethodPost, base+"/advance", nil)

	w := env.do(t, http.MethodPost, base+"/send", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("send: status %d, body %s", w.Code, w.Body)
	}
	var summary models.SendSummary
	json.NewDecoder(w.Body).Decode(&summary)
	if summary.Total != 2 || summary.Sent != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want total 2 sent 1 failed 1", summary)
	}

	// Partial failure keeps the session on review with statuses.
	w = env.do(t, http.MethodGet, base, nil)
	state = decodeState(t, w)
	if state.Step != 3 {
		t.Errorf("step = %d after partial failure, want 3", state.Step)
	}
	if state.Recipients[1].Status != models.StatusFailed {
		t.Errorf("recipient 1 status = %q, want failed", state.Recipients[1].Status)
	}

	// The pass was recorded.
	if len(env.history.records) != 1 {
		t.Fatalf("history records = %d, want 1", len(env.history.records))
	}
	rec := env.history.records[0]
	if rec.Sent != 1 || rec.Failed != 1 || len(rec.Items) != 2 {
		t.Errorf("history record = %+v", rec)
	}
}

func TestSendDuplicateRequestKeepsHistoryItems(t *testing.T) {
	env := newTestEnv(t)
	gate := make(chan struct{})
	env.sender.gate = gate

	state := env.createCampaign(t)
	base := "/api/v1/campaigns/" + state.ID

	env.do(t, http.MethodPost, base+"/template", map[string]string{"template_id": "t-offer"})
	env.do(t, http.MethodPost, base+"/recipients", map[string]string{"name": "Jane", "email": "jane@x.com"})
	env.do(t, http.MethodPost, base+"/recipients", map[string]string{"name": "Ben", "email": "ben@x.com"})
	env.do(t, http.MethodPost, base+"/advance", nil)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- env.do(t, http.MethodPost, base+"/send", nil)
	}()

	// Wait for the pass to start.
	for {
		w := env.do(t, http.MethodGet, base, nil)
		if decodeState(t, w).IsSending {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// A retry mid-pass is rejected and must not disturb the running pass.
	if w := env.do(t, http.MethodPost, base+"/send", nil); w.Code != http.StatusConflict {
		t.Errorf("duplicate send: status %d, want 409", w.Code)
	}

	close(gate)
	if w := <-done; w.Code != http.StatusOK {
		t.Fatalf("send: status %d, body %s", w.Code, w.Body)
	}

	if len(env.history.records) != 1 {
		t.Fatalf("history records = %d, want 1", len(env.history.records))
	}
	if items := env.history.records[0].Items; len(items) != 2 {
		t.Errorf("history items = %d, want per-recipient outcomes for both recipients", len(items))
	}
}

func TestSendFullSuccessResetsSession(t *testing.T) {
	env := newTestEnv(t)

	state := env.createCampaign(t)
	base := "/api/v1/campaigns/" + state.ID

	env.do(t, http.MethodPost, base+"/template", map[string]string{"template_id": "t-offer"})
	env.do(t, http.MethodPost, base+"/recipients", map[string]string{"name": "Jane", "email": "jane@x.com"})
	env.do(t, http.MethodPost, base+"/advance", nil)

	w := env.do(t, http.MethodPost, base+"/send", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("send: status %d", w.Code)
	}

	w = env.do(t, http.MethodGet, base, nil)
	state = decodeState(t, w)
	if state.Step != 1 || state.Template != nil || len(state.Recipients) != 0 {
		t.Errorf("state after full success = %+v, want fresh campaign", state)
	}
}

func TestInternalRecipientToggle(t *testing.T) {
	env := newTestEnv(t)

	state := env.createCampaign(t)
	base := "/api/v1/campaigns/" + state.ID

	env.do(t, http.MethodPost, base+"/template", map[string]string{"template_id": "t-leave"})

	w := env.do(t, http.MethodPost, base+"/recipients/toggle", map[string]string{"user_id": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("toggle: status %d", w.Code)
	}
	var resp struct {
		Added bool `json:"added"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Added {
		t.Error("first toggle should add")
	}

	w = env.do(t, http.MethodPost, base+"/recipients/toggle", map[string]string{"user_id": "u1"})
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Added {
		t.Error("second toggle should remove")
	}

	w = env.do(t, http.MethodGet, base, nil)
	if state = decodeState(t, w); len(state.Recipients) != 0 {
		t.Errorf("recipients = %d after double toggle, want 0", len(state.Recipients))
	}

	w = env.do(t, http.MethodPost, base+"/recipients/toggle", map[string]string{"user_id": "unknown"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("toggle unknown user: status %d, want 502", w.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	state := env.createCampaign(t)
	base := "/api/v1/campaigns/" + state.ID

	env.do(t, http.MethodPost, base+"/template", map[string]string{"template_id": "t-offer"})
	env.do(t, http.MethodPost, base+"/recipients", map[string]string{"name": "Jane", "email": "jane@x.com"})

	w := env.do(t, http.MethodGet, base, nil)
	state = decodeState(t, w)
	recipientID := state.Recipients[0].ID

	w = env.do(t, http.MethodGet, fmt.Sprintf("%s/validate?recipient_id=%s", base, recipientID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("validate: status %d", w.Code)
	}
	var result struct {
		IsValid bool     `json:"is_valid"`
		Missing []string `json:"missing"`
	}
	json.NewDecoder(w.Body).Decode(&result)
	// Auto-mapping provides candidateName, jobTitle and workspaceName.
	if !result.IsValid {
		t.Errorf("validate = %+v, want valid", result)
	}
}

func TestValidateCountsMergedVariables(t *testing.T) {
	env := newTestEnv(t)

	state := env.createCampaign(t)
	base := "/api/v1/campaigns/" + state.ID

	// No declared variables, so neither globals nor auto-mapping provide
	// anything; only the identity merge covers fullName.
	env.do(t, http.MethodPost, base+"/template", map[string]string{"template_id": "t-welcome"})
	env.do(t, http.MethodPost, base+"/recipients/toggle", map[string]string{"user_id": "u1"})

	w := env.do(t, http.MethodGet, base, nil)
	state = decodeState(t, w)
	recipientID := state.Recipients[0].ID

	w = env.do(t, http.MethodGet, base+"/validate?recipient_id="+recipientID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("validate: status %d", w.Code)
	}
	var result struct {
		IsValid bool     `json:"is_valid"`
		Missing []string `json:"missing"`
	}
	json.NewDecoder(w.Body).Decode(&result)
	if result.IsValid {
		t.Error("validate = valid, want workspace variables reported missing")
	}
	if want := []string{"workspaceName", "appUrl"}; !reflect.DeepEqual(result.Missing, want) {
		t.Errorf("missing = %v, want %v", result.Missing, want)
	}

	// Unknown recipient id is a 404.
	w = env.do(t, http.MethodGet, base+"/validate?recipient_id=nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("validate unknown recipient: status %d, want 404", w.Code)
	}
}

func TestCampaignReset(t *testing.T) {
	env := newTestEnv(t)

	state := env.createCampaign(t)
	base := "/api/v1/campaigns/" + state.ID

	env.do(t, http.MethodPost, base+"/template", map[string]string{"template_id": "t-offer"})
	env.do(t, http.MethodPost, base+"/recipients", map[string]string{"name": "Jane", "email": "jane@x.com"})

	w := env.do(t, http.MethodPost, base+"/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset: status %d", w.Code)
	}
	state = decodeState(t, w)
	if state.Step != 1 || state.Template != nil || len(state.Recipients) != 0 {
		t.Errorf("state after reset = %+v, want fresh campaign", state)
	}
	if state.RecipientMode != "internal" {
		t.Errorf("recipient_mode = %q after reset, want internal", state.RecipientMode)
	}
}

func TestCampaignNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/campaigns/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCampaignDelete(t *testing.T) {
	env := newTestEnv(t)
	state := env.createCampaign(t)

	w := env.do(t, http.MethodDelete, "/api/v1/campaigns/"+state.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/v1/campaigns/"+state.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d after delete, want 404", w.Code)
	}
}
