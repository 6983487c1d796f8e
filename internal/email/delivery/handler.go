package delivery

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	emaildomain "kyra-backend/internal/email/domain"
	emaildto "kyra-backend/internal/email/dto"
	"kyra-backend/internal/email/usecase"
	"kyra-backend/pkg/calendar"
)

// Syncer runs synchronization passes on demand
type Syncer interface {
	SyncAccount(ctx context.Context, accountID string) (*usecase.SyncResult, error)
	SyncUser(ctx context.Context, userID string) ([]*usecase.SyncResult, error)
}

// Backfiller queues emails that still need an embedding
type Backfiller interface {
	QueueMissing(ctx context.Context, userID string) (int, error)
}

type EmailHandler struct {
	emailUsecase usecase.EmailUsecase
	syncer       Syncer
	backfiller   Backfiller
}

func NewEmailHandler(emailUsecase usecase.EmailUsecase, syncer Syncer, backfiller Backfiller) *EmailHandler {
	return &EmailHandler{
		emailUsecase: emailUsecase,
		syncer:       syncer,
		backfiller:   backfiller,
	}
}

// writeError maps usecase errors onto HTTP status codes
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, emaildomain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, emaildomain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "You don't have access to this resource"})
	case errors.Is(err, emaildomain.ErrAccountCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account credentials were rejected, please reconnect the account"})
	case errors.Is(err, emaildomain.ErrNoCalendarAccount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No calendar account connected"})
	case errors.Is(err, usecase.ErrInvalidTimeRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	if s := c.Query(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			return v
		}
	}
	return def
}

// ListEmails GET /api/emails?category=&q=&limit=&offset=
func (h *EmailHandler) ListEmails(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	if limit == 0 || limit > 100 {
		limit = 20
	}
	offset := queryInt(c, "offset", 0)

	emails, total, err := h.emailUsecase.ListEmails(c.Request.Context(), c.GetString("userID"), usecase.ListQuery{
		Category: emaildomain.Category(c.Query("category")),
		Q:        c.Query("q"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, emaildto.EmailsResponse{
		Emails: emails,
		Limit:  limit,
		Offset: offset,
		Total:  total,
	})
}

// GetEmailByID GET /api/emails/:id
func (h *EmailHandler) GetEmailByID(c *gin.Context) {
	detail, err := h.emailUsecase.GetEmail(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetThreadSummary GET /api/threads/:id/summary
func (h *EmailHandler) GetThreadSummary(c *gin.Context) {
	summary, err := h.emailUsecase.GetThreadSummary(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RecordInteraction POST /api/emails/:id/interactions
func (h *EmailHandler) RecordInteraction(c *gin.Context) {
	var req emaildto.InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Action.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be one of open, reply, archive, star"})
		return
	}
	in, err := h.emailUsecase.RecordInteraction(c.Request.Context(), c.GetString("userID"), c.Param("id"), req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, in)
}

// ListAccounts GET /api/accounts
func (h *EmailHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.emailUsecase.ListAccounts(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	if accounts == nil {
		accounts = []*emaildomain.Account{}
	}
	c.JSON(http.StatusOK, emaildto.AccountsResponse{Accounts: accounts})
}

// SyncAll POST /api/sync
func (h *EmailHandler) SyncAll(c *gin.Context) {
	results, err := h.syncer.SyncUser(c.Request.Context(), c.GetString("userID"))
	resp := emaildto.SyncResponse{Results: results}
	if resp.Results == nil {
		resp.Results = []*usecase.SyncResult{}
	}
	if err != nil {
		resp.Errors = []string{err.Error()}
	}
	c.JSON(http.StatusOK, resp)
}

// SyncAccount POST /api/accounts/:id/sync
func (h *EmailHandler) SyncAccount(c *gin.Context) {
	accountID := c.Param("id")
	if !h.ownsAccount(c, accountID) {
		return
	}
	res, err := h.syncer.SyncAccount(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *EmailHandler) ownsAccount(c *gin.Context, accountID string) bool {
	accounts, err := h.emailUsecase.ListAccounts(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return false
	}
	for _, a := range accounts {
		if a.ID == accountID {
			return true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	return false
}

// WatchAccount POST /api/accounts/:id/watch
func (h *EmailHandler) WatchAccount(c *gin.Context) {
	historyID, err := h.emailUsecase.WatchAccount(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, emaildto.WatchResponse{HistoryID: historyID})
}

// SendEmail POST /api/emails/send
func (h *EmailHandler) SendEmail(c *gin.Context) {
	var req usecase.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.emailUsecase.SendEmail(c.Request.Context(), c.GetString("userID"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, emaildto.SendEmailResponse{MessageID: id})
}

// DraftReply POST /api/emails/draft
func (h *EmailHandler) DraftReply(c *gin.Context) {
	var req usecase.DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.emailUsecase.DraftReply(c.Request.Context(), c.GetString("userID"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DashboardStats GET /api/dashboard/stats
func (h *EmailHandler) DashboardStats(c *gin.Context) {
	stats, err := h.emailUsecase.DashboardStats(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GenerateDigest POST /api/digest/generate
func (h *EmailHandler) GenerateDigest(c *gin.Context) {
	digest, err := h.emailUsecase.GenerateDigest(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Digest generated", "digest": digest})
}

// LatestDigest GET /api/digest/latest
func (h *EmailHandler) LatestDigest(c *gin.Context) {
	digest, err := h.emailUsecase.LatestDigest(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, digest)
}

// Backfill POST /api/brain/backfill
func (h *EmailHandler) Backfill(c *gin.Context) {
	queued, err := h.backfiller.QueueMissing(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, emaildto.BackfillResponse{Queued: queued})
}

// ListEvents GET /api/calendar/events?days=
func (h *EmailHandler) ListEvents(c *gin.Context) {
	days := queryInt(c, "days", 7)
	if days == 0 || days > 60 {
		days = 7
	}
	events, err := h.emailUsecase.UpcomingEvents(c.Request.Context(), c.GetString("userID"), days)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []calendar.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// CreateEvent POST /api/calendar/events
func (h *EmailHandler) CreateEvent(c *gin.Context) {
	var req calendar.NewEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event, err := h.emailUsecase.CreateEvent(c.Request.Context(), c.GetString("userID"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// CheckConflicts GET /api/calendar/conflicts?start_time=&end_time= (RFC 3339)
func (h *EmailHandler) CheckConflicts(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start_time"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_time must be an RFC 3339 timestamp"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end_time"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must be an RFC 3339 timestamp"})
		return
	}
	report, err := h.emailUsecase.CheckConflicts(c.Request.Context(), c.GetString("userID"), start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
