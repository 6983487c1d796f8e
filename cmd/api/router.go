package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	authdomain "kyra-backend/internal/auth/domain"
	"kyra-backend/internal/auth/delivery"
	authUsecase "kyra-backend/internal/auth/usecase"
	chatDelivery "kyra-backend/internal/chat/delivery"
	emailDelivery "kyra-backend/internal/email/delivery"
	taskDelivery "kyra-backend/internal/task/delivery"
	"kyra-backend/pkg/monitoring"
)

// Routes groups the handlers mounted by SetupRoutes
type Routes struct {
	AuthUsecase     authUsecase.AuthUsecase
	AuthHandler     *delivery.AuthHandler
	EmailHandler    *emailDelivery.EmailHandler
	TaskHandler     *taskDelivery.TaskHandler
	ChatHandler     *chatDelivery.ChatHandler
	SettingsHandler *SettingsHandler
	Health          http.Handler
}

func SetupRoutes(r *gin.Engine, rt Routes) {
	if rt.Health != nil {
		r.Any("/health/*probe", gin.WrapH(http.StripPrefix("/health", rt.Health)))
	}
	r.GET("/metrics", gin.WrapH(monitoring.Handler()))

	api := r.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	{
		auth.POST("/login", rt.AuthHandler.Login)
		auth.POST("/register", rt.AuthHandler.Register)
		auth.POST("/refresh", rt.AuthHandler.RefreshToken)
		auth.POST("/logout", rt.AuthHandler.Logout)
		auth.GET("/google/login", rt.AuthHandler.GoogleLogin)
		auth.GET("/google/callback", rt.AuthHandler.GoogleCallback)
		auth.GET("/me", delivery.AuthMiddleware(rt.AuthUsecase), rt.AuthHandler.Me)
	}

	protected := api.Group("")
	protected.Use(delivery.AuthMiddleware(rt.AuthUsecase))

	read := delivery.RequirePermission(authdomain.PermReadEmails, "")
	write := delivery.RequirePermission(authdomain.PermWriteEmails, "")

	// FCM routes
	fcm := protected.Group("/fcm")
	{
		fcm.POST("/register", rt.AuthHandler.RegisterFCMToken)
		fcm.DELETE("/:token", rt.AuthHandler.UnregisterFCMToken)
	}

	// Organization routes
	orgs := protected.Group("/organizations")
	{
		orgs.POST("", rt.AuthHandler.CreateOrganization)
		orgs.GET("", rt.AuthHandler.ListOrganizations)
		orgs.GET("/:orgId/members", delivery.RequirePermission(authdomain.PermReadEmails, "orgId"), rt.AuthHandler.ListMembers)
		orgs.POST("/:orgId/members", delivery.RequirePermission(authdomain.PermManageMembers, "orgId"), rt.AuthHandler.AddMember)
		orgs.PATCH("/:orgId/members/:userId", delivery.RequirePermission(authdomain.PermManageMembers, "orgId"), rt.AuthHandler.UpdateMemberRole)
		orgs.DELETE("/:orgId/members/:userId", delivery.RequirePermission(authdomain.PermManageMembers, "orgId"), rt.AuthHandler.RemoveMember)
	}

	// Account and sync routes
	accounts := protected.Group("/accounts")
	{
		accounts.GET("", read, rt.EmailHandler.ListAccounts)
		accounts.POST("/imap", write, rt.AuthHandler.ConnectIMAP)
		accounts.POST("/:id/sync", write, rt.EmailHandler.SyncAccount)
		accounts.POST("/:id/watch", write, rt.EmailHandler.WatchAccount)
	}
	protected.POST("/sync", write, rt.EmailHandler.SyncAll)
	protected.POST("/brain/backfill", write, rt.EmailHandler.Backfill)

	// Email routes
	emails := protected.Group("/emails")
	{
		emails.GET("", read, rt.EmailHandler.ListEmails)
		emails.POST("/send", write, rt.EmailHandler.SendEmail)
		emails.POST("/draft", read, rt.EmailHandler.DraftReply)
		emails.GET("/:id", read, rt.EmailHandler.GetEmailByID)
		emails.POST("/:id/interactions", write, rt.EmailHandler.RecordInteraction)
	}
	protected.GET("/threads/:id/summary", read, rt.EmailHandler.GetThreadSummary)

	// Insight routes
	protected.GET("/dashboard/stats", read, rt.EmailHandler.DashboardStats)
	digest := protected.Group("/digest")
	{
		digest.POST("/generate", read, rt.EmailHandler.GenerateDigest)
		digest.GET("/latest", read, rt.EmailHandler.LatestDigest)
	}

	// Calendar routes
	calendar := protected.Group("/calendar")
	{
		calendar.GET("/events", read, rt.EmailHandler.ListEvents)
		calendar.POST("/events", write, rt.EmailHandler.CreateEvent)
		calendar.GET("/conflicts", read, rt.EmailHandler.CheckConflicts)
	}

	// Task routes
	tasks := protected.Group("/tasks")
	{
		tasks.GET("", rt.TaskHandler.GetTasks)
		tasks.POST("", rt.TaskHandler.CreateTask)
		tasks.POST("/extract/:emailId", read, rt.TaskHandler.ExtractTaskFromEmail)
		tasks.GET("/:id", rt.TaskHandler.GetTaskByID)
		tasks.PUT("/:id", rt.TaskHandler.UpdateTask)
		tasks.DELETE("/:id", rt.TaskHandler.DeleteTask)
		tasks.PATCH("/:id/status", rt.TaskHandler.UpdateTaskStatus)
	}

	// Chat routes; the responder checks read_emails itself
	chat := protected.Group("/chat")
	{
		chat.POST("", rt.ChatHandler.Chat)
		chat.GET("/conversations", rt.ChatHandler.ListConversations)
		chat.GET("/conversations/:id/messages", rt.ChatHandler.ListMessages)
	}

	// Settings routes
	settings := protected.Group("/settings")
	{
		settings.GET("/ollama", rt.SettingsHandler.GetOllamaSettings)
		settings.PUT("/ollama", rt.SettingsHandler.UpdateOllamaSettings)
		settings.POST("/ollama/test", rt.SettingsHandler.TestOllamaConnection)
	}
}
