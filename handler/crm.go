package handler

import (
	"errors"
	"net/http"

	"github.com/Relchzen/kopcus-dashboard/model"
	"github.com/Relchzen/kopcus-dashboard/service"
	"github.com/gin-gonic/gin"
)

// CRMHandler exposes the pipeline store's commands and selectors to the
// console UI. Handlers stay thin: they bind, call the store, and map errors
// to status codes. Optimistic commands respond 202 before their background
// reconciliation resolves; the outcome reaches the UI through the
// notification feed.
type CRMHandler struct {
	store         *service.PipelineStore
	coordinator   *service.StageCoordinator
	session       *service.EditSession
	notifications *service.NotificationCenter
}

func NewCRMHandler(store *service.PipelineStore, coordinator *service.StageCoordinator, session *service.EditSession, notifications *service.NotificationCenter) *CRMHandler {
	return &CRMHandler{
		store:         store,
		coordinator:   coordinator,
		session:       session,
		notifications: notifications,
	}
}

// statusForError maps store errors to HTTP statuses. Local precondition
// no-ops are 404s; everything else is a gateway-side failure.
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownClient),
		errors.Is(err, service.ErrUnknownDeal),
		errors.Is(err, service.ErrUnknownSubmission):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoOpenSession):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// Refresh reloads both collections from the gateway.
func (h *CRMHandler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()

	clientsErr := h.store.LoadClients(ctx)
	subsErr := h.store.LoadSubmissions(ctx)

	if clientsErr != nil || subsErr != nil {
		// Collections are already reset to empty; report the failure.
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to refresh from gateway"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"clients":     len(h.store.Clients()),
		"submissions": len(h.store.Submissions()),
	})
}

// Board returns the kanban view: deals grouped by stage in board order.
func (h *CRMHandler) Board(c *gin.Context) {
	columns := make([]gin.H, 0, len(model.Stages))
	for _, stage := range model.Stages {
		deals := h.store.GetDealsByStage(stage)
		if deals == nil {
			deals = []model.Deal{}
		}
		columns = append(columns, gin.H{
			"stage": stage,
			"deals": deals,
		})
	}

	loading, mutating, converting := h.store.Busy()
	c.JSON(http.StatusOK, gin.H{
		"columns":       columns,
		"is_loading":    loading,
		"is_mutating":   mutating,
		"is_converting": converting,
	})
}

// ListClients returns the mirrored client collection.
func (h *CRMHandler) ListClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": h.store.Clients()})
}

// GetClient returns one client with its contacts and deals.
func (h *CRMHandler) GetClient(c *gin.Context) {
	client := h.store.GetClientByID(c.Param("id"))
	if client == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
		return
	}
	c.JSON(http.StatusOK, client)
}

// ListSubmissions returns the mirrored submission collection.
func (h *CRMHandler) ListSubmissions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"submissions": h.store.Submissions()})
}

// GetSubmission returns one submission and focuses it. Viewing a NEW
// submission marks it reviewed automatically; the guard inside the store
// makes repeat views no-ops.
func (h *CRMHandler) GetSubmission(c *gin.Context) {
	id := c.Param("id")
	sub := h.store.GetSubmissionByID(id)
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
		return
	}

	h.store.SetActiveSubmission(sub)
	h.store.MarkAsReviewed(id)

	// Re-read so the response reflects the optimistic transition.
	if fresh := h.store.GetSubmissionByID(id); fresh != nil {
		sub = fresh
	}
	c.JSON(http.StatusOK, sub)
}

// Inbox returns the unread and action-required counts.
func (h *CRMHandler) Inbox(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"unread":          h.store.GetUnreadCount(),
		"action_required": h.store.GetActionRequiredCount(),
	})
}

type createDealRequest struct {
	ClientID    string  `json:"clientId" binding:"required"`
	Title       string  `json:"title" binding:"required"`
	Description string  `json:"description"`
	Value       float64 `json:"value" binding:"min=0"`
	Stage       string  `json:"stage"`
}

// CreateDeal creates a deal for a known client.
func (h *CRMHandler) CreateDeal(c *gin.Context) {
	var req createDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	stage := model.DealStage(req.Stage)
	if req.Stage != "" && !model.ValidStage(stage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stage"})
		return
	}

	deal, err := h.store.CreateDeal(c.Request.Context(), service.CreateDealRequest{
		ClientID:    req.ClientID,
		Title:       req.Title,
		Description: req.Description,
		Value:       req.Value,
		Stage:       stage,
	})
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, deal)
}

// UpdateDeal applies a partial update through the pessimistic path.
func (h *CRMHandler) UpdateDeal(c *gin.Context) {
	var patch model.DealPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if patch.Stage != nil && !model.ValidStage(*patch.Stage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stage"})
		return
	}

	deal, err := h.store.UpdateDeal(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, deal)
}

// DeleteDeal removes a deal after gateway confirmation.
func (h *CRMHandler) DeleteDeal(c *gin.Context) {
	if err := h.store.DeleteDeal(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Deal deleted"})
}

// DeleteClient removes a client and, by cascade, its contacts and deals.
func (h *CRMHandler) DeleteClient(c *gin.Context) {
	if err := h.store.DeleteClient(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Client and related data deleted"})
}

type convertRequest struct {
	ClientName string  `json:"clientName" binding:"required"`
	DealTitle  string  `json:"dealTitle" binding:"required"`
	DealValue  float64 `json:"dealValue" binding:"min=0"`
}

// ConvertSubmission turns a submission into a client+deal pair.
func (h *CRMHandler) ConvertSubmission(c *gin.Context) {
	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.store.ConvertSubmission(c.Request.Context(), c.Param("id"), service.ConvertRequest{
		ClientName: req.ClientName,
		DealTitle:  req.DealTitle,
		DealValue:  req.DealValue,
	})
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Client and Deal created successfully!"})
}

// ReviewSubmission marks a submission reviewed (optimistic, idempotent).
func (h *CRMHandler) ReviewSubmission(c *gin.Context) {
	h.store.MarkAsReviewed(c.Param("id"))
	c.JSON(http.StatusAccepted, gin.H{"message": "Submission review requested"})
}

// SpamSubmission flags a submission as spam (optimistic).
func (h *CRMHandler) SpamSubmission(c *gin.Context) {
	h.store.MarkAsSpam(c.Param("id"))
	c.JSON(http.StatusAccepted, gin.H{"message": "Submission spam flag requested"})
}

// BoardGesture receives a completed pointer gesture from the board UI. A
// click opens the deal detail; a drag dispatches at most one stage move.
// The response only classifies the gesture: a dispatched move reconciles in
// the background, and its success or rollback surfaces through
// GET /api/notifications.
func (h *CRMHandler) BoardGesture(c *gin.Context) {
	var gesture service.Gesture
	if err := c.ShouldBindJSON(&gesture); err != nil || gesture.DealID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid gesture"})
		return
	}

	kind, _ := h.coordinator.HandleGesture(gesture)
	c.JSON(http.StatusAccepted, gin.H{"gesture": kind})
}

// OpenDetail starts an edit session for a deal.
func (h *CRMHandler) OpenDetail(c *gin.Context) {
	if err := h.session.Open(c.Param("id")); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.store.GetActiveDeal())
}

// CloseDetail ends the edit session, discarding staged edits.
func (h *CRMHandler) CloseDetail(c *gin.Context) {
	h.session.Close()
	c.JSON(http.StatusOK, gin.H{"message": "Detail closed"})
}

// StageDetail merges field edits into the open session's pending patch.
func (h *CRMHandler) StageDetail(c *gin.Context) {
	var patch model.DealPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if patch.Stage != nil && !model.ValidStage(*patch.Stage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stage"})
		return
	}

	if err := h.session.Stage(patch); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"staged": h.session.Staged()})
}

// SaveDetail pushes staged edits through the pessimistic update and closes
// the session on success.
func (h *CRMHandler) SaveDetail(c *gin.Context) {
	deal, err := h.session.Save(c.Request.Context())
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, deal)
}

// DeleteDetailDeal deletes the deal open in the edit session.
func (h *CRMHandler) DeleteDetailDeal(c *gin.Context) {
	if err := h.session.Delete(c.Request.Context()); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Deal deleted"})
}

// Notifications drains the pending notification feed.
func (h *CRMHandler) Notifications(c *gin.Context) {
	notes := h.notifications.Drain()
	if notes == nil {
		notes = []service.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notes})
}
