package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/taskflow/mailcenter/internal/campaign"
	"github.com/taskflow/mailcenter/internal/history"
	"github.com/taskflow/mailcenter/internal/models"
)

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CampaignState is the wire representation of a campaign session.
type CampaignState struct {
	ID              string             `json:"id"`
	Step            campaign.Step      `json:"step"`
	Template        *models.Template   `json:"template,omitempty"`
	RecipientMode   string             `json:"recipient_mode"`
	GlobalVariables map[string]string  `json:"global_variables"`
	Recipients      []models.Recipient `json:"recipients"`
	IsSending       bool               `json:"is_sending"`
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, ErrorResponse{Error: msg})
}

// campaignError maps controller errors to HTTP statuses.
func (s *Server) campaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrSendInProgress):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, campaign.ErrRecipientNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, campaign.ErrNoTemplate),
		errors.Is(err, campaign.ErrNoRecipients),
		errors.Is(err, campaign.ErrInvalidStep),
		errors.Is(err, campaign.ErrWrongStep),
		errors.Is(err, campaign.ErrEmptyName),
		errors.Is(err, campaign.ErrEmptyEmail):
		s.sendError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := chi.URLParam(r, "id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		s.sendError(w, http.StatusNotFound, "campaign not found")
	}
	return sess, ok
}

func (s *Server) state(sess *Session) CampaignState {
	ctrl := sess.Controller
	return CampaignState{
		ID:              sess.ID,
		Step:            ctrl.Step(),
		Template:        ctrl.Template(),
		RecipientMode:   string(ctrl.Mode()),
		GlobalVariables: ctrl.GlobalVariables(),
		Recipients:      ctrl.Recipients(),
		IsSending:       ctrl.IsSending(),
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Count(),
	})
}

// handleCampaignCreate handles POST /api/v1/campaigns
func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	ctrl := campaign.New(
		s.sender,
		campaign.NewRegistry(),
		s.cfg.Workspace.Name,
		s.cfg.Workspace.AppURL,
		campaign.Options{ClearOverridesOnTemplateChange: s.cfg.Campaign.ClearOverridesOnTemplateChange},
		s.logger,
	)
	sess := s.sessions.Create(ctrl)
	s.logger.Info("campaign session created", "session_id", sess.ID)
	s.sendJSON(w, http.StatusCreated, s.state(sess))
}

// handleCampaignGet handles GET /api/v1/campaigns/{id}
func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, s.state(sess))
}

// handleCampaignDelete handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleCampaignDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if sess.Controller.IsSending() {
		s.sendError(w, http.StatusConflict, campaign.ErrSendInProgress.Error())
		return
	}
	s.sessions.Delete(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleCampaignReset handles POST /api/v1/campaigns/{id}/reset
func (s *Server) handleCampaignReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Controller.Reset(); err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.state(sess))
}

// handleTemplateSelect handles POST /api/v1/campaigns/{id}/template
func (s *Server) handleTemplateSelect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		TemplateID string `json:"template_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TemplateID == "" {
		s.sendError(w, http.StatusBadRequest, "template_id is required")
		return
	}

	tmpl, err := s.templates.GetTemplate(r.Context(), req.TemplateID)
	if err != nil {
		s.logger.Error("failed to load template", "template_id", req.TemplateID, "error", err)
		s.sendError(w, http.StatusBadGateway, "failed to load template")
		return
	}

	if err := sess.Controller.SelectTemplate(tmpl); err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.state(sess))
}

// handleAdvance handles POST /api/v1/campaigns/{id}/advance
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Controller.Advance(); err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.state(sess))
}

// handleBack handles POST /api/v1/campaigns/{id}/back
func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Controller.Back(); err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.state(sess))
}

// handleModeSet handles PUT /api/v1/campaigns/{id}/mode
func (s *Server) handleModeSet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode := models.RecipientSource(req.Mode)
	if mode != models.SourceInternal && mode != models.SourceExternal {
		s.sendError(w, http.StatusBadRequest, "mode must be internal or external")
		return
	}

	if err := sess.Controller.SetMode(mode); err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.state(sess))
}

// handleGlobalVariableSet handles PUT /api/v1/campaigns/{id}/variables
func (s *Server) handleGlobalVariableSet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := sess.Controller.SetGlobalVariable(req.Name, req.Value); err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.state(sess))
}

// handleRecipientAdd handles POST /api/v1/campaigns/{id}/recipients
func (s *Server) handleRecipientAdd(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	recipient, err := sess.Controller.AddExternal(req.Name, req.Email)
	if err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, recipient)
}

// handleRecipientToggle handles POST /api/v1/campaigns/{id}/recipients/toggle
func (s *Server) handleRecipientToggle(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.directory.GetUser(r.Context(), req.UserID)
	if err != nil {
		s.logger.Error("failed to load user", "user_id", req.UserID, "error", err)
		s.sendError(w, http.StatusBadGateway, "failed to load user")
		return
	}

	added, err := sess.Controller.ToggleUser(*user)
	if err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"added": added})
}

// handleRecipientRemove handles DELETE /api/v1/campaigns/{id}/recipients/{recipientID}
func (s *Server) handleRecipientRemove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Controller.RemoveRecipient(chi.URLParam(r, "recipientID")); err != nil {
		s.campaignError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRecipientVariableSet handles PUT /api/v1/campaigns/{id}/recipients/{recipientID}/variables
func (s *Server) handleRecipientVariableSet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := sess.Controller.SetRecipientVariable(chi.URLParam(r, "recipientID"), req.Name, req.Value); err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.state(sess))
}

// handleRecipientVariableReset handles POST /api/v1/campaigns/{id}/recipients/{recipientID}/variables/reset
func (s *Server) handleRecipientVariableReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Controller.ResetRecipientVariables(chi.URLParam(r, "recipientID")); err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.state(sess))
}

// handlePreview handles GET /api/v1/campaigns/{id}/preview?recipient_id=...
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	recipientID := r.URL.Query().Get("recipient_id")
	if recipientID == "" {
		s.sendError(w, http.StatusBadRequest, "recipient_id is required")
		return
	}

	preview, err := sess.Controller.RenderPreview(recipientID)
	if err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, preview)
}

// handleValidate handles GET /api/v1/campaigns/{id}/validate?recipient_id=...
// With a recipient it checks the send-time merged variable set; without
// one it checks the campaign-wide defaults.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var (
		result campaign.ValidationResult
		err    error
	)
	if recipientID := r.URL.Query().Get("recipient_id"); recipientID != "" {
		result, err = sess.Controller.ValidateRecipient(recipientID)
	} else {
		result, err = sess.Controller.ValidateGlobals()
	}
	if err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

// handleSend handles POST /api/v1/campaigns/{id}/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	ctrl := sess.Controller

	tmpl := ctrl.Template()
	if tmpl == nil {
		s.campaignError(w, campaign.ErrNoTemplate)
		return
	}

	// Collect final per-recipient outcomes for the history record; the
	// controller clears its state on a fully successful pass. The
	// collector is scoped to this pass, so a concurrent rejected send
	// cannot disturb it.
	var items []history.Item
	collect := func(index int, rec models.Recipient) {
		if rec.Status != models.StatusSent && rec.Status != models.StatusFailed {
			return
		}
		items = append(items, history.Item{
			Email:  rec.Email,
			Name:   rec.Name,
			Status: rec.Status,
			Error:  rec.Error,
		})
	}

	start := time.Now()
	summary, err := ctrl.Send(r.Context(), collect)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.campaignError(w, err)
		return
	}

	s.metrics.SendPassDurationSeconds.Observe(time.Since(start).Seconds())
	s.metrics.EmailsSentTotal.WithLabelValues(string(tmpl.Category)).Add(float64(summary.Sent))
	s.metrics.EmailsFailedTotal.WithLabelValues(string(tmpl.Category)).Add(float64(summary.Failed))
	if summary.Failed == 0 && summary.Sent == summary.Total {
		s.metrics.CampaignsCompletedTotal.Inc()
	} else {
		s.metrics.CampaignsPartialTotal.Inc()
	}

	rec := &history.Record{
		ID:           uuid.New().String(),
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		Category:     string(tmpl.Category),
		SentAt:       time.Now(),
		Total:        summary.Total,
		Sent:         summary.Sent,
		Failed:       summary.Failed,
		Items:        items,
	}
	if err := s.history.Save(rec); err != nil {
		s.logger.Error("failed to save send history", "error", err)
	}

	s.sendJSON(w, http.StatusOK, summary)
}

// handleTemplateList handles GET /api/v1/templates
func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	templates, err := s.templates.ListTemplates(r.Context())
	if err != nil {
		s.logger.Error("failed to list templates", "error", err)
		s.sendError(w, http.StatusBadGateway, "failed to list templates")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// handleTemplateGet handles GET /api/v1/templates/{id}
func (s *Server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.templates.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get template", "error", err)
		s.sendError(w, http.StatusBadGateway, "failed to get template")
		return
	}
	s.sendJSON(w, http.StatusOK, tmpl)
}

// handleUserList handles GET /api/v1/users
func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request) {
	users, err := s.directory.ListUsers(r.Context())
	if err != nil {
		s.logger.Error("failed to list users", "error", err)
		s.sendError(w, http.StatusBadGateway, "failed to list users")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleProviderConfig handles GET /api/v1/config
func (s *Server) handleProviderConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.templates.GetConfig(r.Context())
	if err != nil {
		s.logger.Error("failed to get provider config", "error", err)
		s.sendError(w, http.StatusBadGateway, "failed to get provider config")
		return
	}
	s.sendJSON(w, http.StatusOK, cfg)
}

// handleHistoryList handles GET /api/v1/history
func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.List(50)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"records": records})
}

// handleHistoryGet handles GET /api/v1/history/{id}
func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.history.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get history record", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to get history record")
		return
	}
	if rec == nil {
		s.sendError(w, http.StatusNotFound, "record not found")
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}
