package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	emaildomain "kyra-backend/internal/email/domain"
	emaildto "kyra-backend/internal/email/dto"
	"kyra-backend/internal/email/usecase"
	"kyra-backend/pkg/calendar"
)

type stubEmailUsecase struct {
	usecase.EmailUsecase
	query    usecase.ListQuery
	accounts []*emaildomain.Account
	getErr   error
}

func (s *stubEmailUsecase) ListEmails(_ context.Context, _ string, q usecase.ListQuery) ([]*emaildomain.Email, int64, error) {
	s.query = q
	return []*emaildomain.Email{{ID: "e1"}}, 1, nil
}

func (s *stubEmailUsecase) GetEmail(context.Context, string, string) (*usecase.EmailDetail, error) {
	return nil, s.getErr
}

func (s *stubEmailUsecase) CheckConflicts(_ context.Context, _ string, start, end time.Time) (*calendar.ConflictReport, error) {
	if !end.After(start) {
		return nil, usecase.ErrInvalidTimeRange
	}
	return &calendar.ConflictReport{HasConflicts: true, Conflicts: []calendar.Event{{ID: "viva", Start: start, End: end}}}, nil
}

func (s *stubEmailUsecase) ListAccounts(context.Context, string) ([]*emaildomain.Account, error) {
	return s.accounts, nil
}

type stubSyncer struct {
	synced []string
}

func (s *stubSyncer) SyncAccount(_ context.Context, accountID string) (*usecase.SyncResult, error) {
	s.synced = append(s.synced, accountID)
	return &usecase.SyncResult{AccountID: accountID, New: 2, State: usecase.StateDone}, nil
}

func (s *stubSyncer) SyncUser(context.Context, string) ([]*usecase.SyncResult, error) {
	return nil, errors.New("me@x.com: account credentials rejected")
}

func newTestRouter(h *EmailHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.GET("/emails", h.ListEmails)
	r.GET("/emails/:id", h.GetEmailByID)
	r.POST("/emails/:id/interactions", h.RecordInteraction)
	r.POST("/sync", h.SyncAll)
	r.POST("/accounts/:id/sync", h.SyncAccount)
	r.GET("/calendar/conflicts", h.CheckConflicts)
	return r
}

func TestListEmailsParsesQuery(t *testing.T) {
	uc := &stubEmailUsecase{}
	r := newTestRouter(NewEmailHandler(uc, &stubSyncer{}, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/emails?category=Critical&q=lab&limit=500&offset=5", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, emaildomain.CategoryCritical, uc.query.Category)
	assert.Equal(t, "lab", uc.query.Q)
	assert.Equal(t, 20, uc.query.Limit)
	assert.Equal(t, 5, uc.query.Offset)

	var resp emaildto.EmailsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Total)
}

func TestGetEmailMapsErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", emaildomain.ErrNotFound, http.StatusNotFound},
		{"forbidden", emaildomain.ErrForbidden, http.StatusForbidden},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(NewEmailHandler(&stubEmailUsecase{getErr: tc.err}, &stubSyncer{}, nil))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/emails/e1", nil))
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestRecordInteractionRejectsUnknownAction(t *testing.T) {
	r := newTestRouter(NewEmailHandler(&stubEmailUsecase{}, &stubSyncer{}, nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/emails/e1/interactions", strings.NewReader(`{"action":"delete"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncAccountChecksOwnership(t *testing.T) {
	syncer := &stubSyncer{}
	uc := &stubEmailUsecase{accounts: []*emaildomain.Account{{ID: "a1", UserID: "u1"}}}
	r := newTestRouter(NewEmailHandler(uc, syncer, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/accounts/other/sync", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, syncer.synced)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/accounts/a1/sync", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a1"}, syncer.synced)
}

func TestSyncAllReportsErrors(t *testing.T) {
	r := newTestRouter(NewEmailHandler(&stubEmailUsecase{}, &stubSyncer{}, nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sync", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp emaildto.SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
	require.Len(t, resp.Errors, 1)
}

func TestCheckConflicts(t *testing.T) {
	r := newTestRouter(NewEmailHandler(&stubEmailUsecase{}, &stubSyncer{}, nil))

	cases := []struct {
		name   string
		query  string
		status int
	}{
		{"overlap", "start_time=2025-01-02T10:00:00Z&end_time=2025-01-02T11:00:00Z", http.StatusOK},
		{"missing end", "start_time=2025-01-02T10:00:00Z", http.StatusBadRequest},
		{"not a timestamp", "start_time=tomorrow&end_time=2025-01-02T11:00:00Z", http.StatusBadRequest},
		{"inverted", "start_time=2025-01-02T11:00:00Z&end_time=2025-01-02T10:00:00Z", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calendar/conflicts?"+tc.query, nil))
			assert.Equal(t, tc.status, w.Code)
		})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calendar/conflicts?start_time=2025-01-02T10:00:00Z&end_time=2025-01-02T11:00:00Z", nil))
	var report calendar.ConflictReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.HasConflicts)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, "viva", report.Conflicts[0].ID)
}
