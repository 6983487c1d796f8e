package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	authdomain "kyra-backend/internal/auth/domain"
	authdto "kyra-backend/internal/auth/dto"
	"kyra-backend/internal/auth/usecase"
	emaildomain "kyra-backend/internal/email/domain"
)

const stateCookie = "oauth_state"

// AccountHook runs after a mailbox is connected (first sync, push watch)
type AccountHook func(ctx context.Context, acct *emaildomain.Account)

type AuthHandler struct {
	authUsecase usecase.AuthUsecase
	orgUsecase  usecase.OrganizationUsecase
	frontendURL string
	onConnected AccountHook
}

func NewAuthHandler(authUsecase usecase.AuthUsecase, orgUsecase usecase.OrganizationUsecase, frontendURL string, onConnected AccountHook) *AuthHandler {
	return &AuthHandler{
		authUsecase: authUsecase,
		orgUsecase:  orgUsecase,
		frontendURL: frontendURL,
		onConnected: onConnected,
	}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req authdto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.authUsecase.Login(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req authdto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.authUsecase.Register(c.Request.Context(), &req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, usecase.ErrEmailTaken) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req authdto.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.authUsecase.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req authdto.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.authUsecase.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":        user,
		"memberships": CurrentAuth(c).Memberships,
	})
}

// GoogleLogin redirects to the consent screen
// GET /api/auth/google/login
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	state := uuid.New().String()
	c.SetCookie(stateCookie, state, 600, "/", "", false, true)
	c.Redirect(http.StatusFound, h.authUsecase.GoogleLoginURL(state))
}

// GoogleCallback finishes the login and hands the tokens to the frontend
// GET /api/auth/google/callback
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errParam})
		return
	}
	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid oauth state"})
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", false, true)

	resp, acct, err := h.authUsecase.GoogleCallback(c.Request.Context(), c.Query("code"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if h.onConnected != nil {
		// Detached from the request: the first sync outlives the redirect
		go h.onConnected(context.Background(), acct)
	}

	q := url.Values{}
	q.Set("access_token", resp.AccessToken)
	q.Set("refresh_token", resp.RefreshToken)
	c.Redirect(http.StatusFound, h.frontendURL+"/auth/callback?"+q.Encode())
}

// ConnectIMAP stores a password based mailbox
// POST /api/accounts/imap
func (h *AuthHandler) ConnectIMAP(c *gin.Context) {
	var req authdto.IMAPConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acct, err := h.authUsecase.ConnectIMAP(c.Request.Context(), CurrentAuth(c).UserID, &req)
	if err != nil {
		switch {
		case errors.Is(err, emaildomain.ErrAccountCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "IMAP login failed"})
		case errors.Is(err, authdomain.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "mailbox belongs to another user"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	if h.onConnected != nil {
		go h.onConnected(context.Background(), acct)
	}
	c.JSON(http.StatusCreated, acct)
}

// RegisterFCMToken registers a device for push notifications
// POST /api/fcm/register
func (h *AuthHandler) RegisterFCMToken(c *gin.Context) {
	var req authdto.FCMRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.authUsecase.RegisterFCMToken(c.Request.Context(), CurrentAuth(c).UserID, req.Token, req.DeviceInfo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token registered"})
}

// UnregisterFCMToken removes a device
// DELETE /api/fcm/:token
func (h *AuthHandler) UnregisterFCMToken(c *gin.Context) {
	if err := h.authUsecase.UnregisterFCMToken(c.Request.Context(), c.Param("token")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token removed"})
}

// POST /api/organizations
func (h *AuthHandler) CreateOrganization(c *gin.Context) {
	var req authdto.CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	org, err := h.orgUsecase.Create(c.Request.Context(), CurrentAuth(c), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        org.ID,
		"name":      org.Name,
		"plan_type": org.PlanType,
		"role":      authdomain.RoleOwner,
	})
}

// GET /api/organizations
func (h *AuthHandler) ListOrganizations(c *gin.Context) {
	orgs, err := h.orgUsecase.List(c.Request.Context(), CurrentAuth(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, orgs)
}

// POST /api/organizations/:orgId/members
func (h *AuthHandler) AddMember(c *gin.Context) {
	var req authdto.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := h.orgUsecase.AddMember(c.Request.Context(), CurrentAuth(c), c.Param("orgId"), &req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, authdomain.ErrForbidden) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, m)
}

// PATCH /api/organizations/:orgId/members/:userId
func (h *AuthHandler) UpdateMemberRole(c *gin.Context) {
	var req authdto.UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := h.orgUsecase.UpdateMemberRole(c.Request.Context(), CurrentAuth(c), c.Param("orgId"), c.Param("userId"), &req)
	if err != nil {
		c.JSON(memberErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "role_updated", "user_id": m.UserID, "new_role": m.Role})
}

// DELETE /api/organizations/:orgId/members/:userId
func (h *AuthHandler) RemoveMember(c *gin.Context) {
	userID := c.Param("userId")
	if err := h.orgUsecase.RemoveMember(c.Request.Context(), CurrentAuth(c), c.Param("orgId"), userID); err != nil {
		c.JSON(memberErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "member_removed", "user_id": userID})
}

func memberErrorStatus(err error) int {
	switch {
	case errors.Is(err, authdomain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, usecase.ErrMemberNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrOwnerCannotLeave):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrInvalidRole):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// GET /api/organizations/:orgId/members
func (h *AuthHandler) ListMembers(c *gin.Context) {
	members, err := h.orgUsecase.ListMembers(c.Request.Context(), CurrentAuth(c), c.Param("orgId"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, authdomain.ErrForbidden) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, members)
}
