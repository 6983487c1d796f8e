package usecase

import (
	"context"

	authdomain "kyra-backend/internal/auth/domain"
	authdto "kyra-backend/internal/auth/dto"
	"kyra-backend/internal/auth/repository"
	emaildomain "kyra-backend/internal/email/domain"
)

// AuthUsecase covers sign in, token handling and mailbox connection
type AuthUsecase interface {
	Login(ctx context.Context, req *authdto.LoginRequest) (*authdto.TokenResponse, error)
	Register(ctx context.Context, req *authdto.RegisterRequest) (*authdto.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*authdto.TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error

	// GoogleLoginURL is the consent screen URL for a Gmail + Calendar connection
	GoogleLoginURL(state string) string
	// GoogleCallback exchanges the code, upserts the user and the Gmail account and signs in
	GoogleCallback(ctx context.Context, code string) (*authdto.TokenResponse, *emaildomain.Account, error)
	ConnectIMAP(ctx context.Context, userID string, req *authdto.IMAPConnectRequest) (*emaildomain.Account, error)

	ValidateToken(ctx context.Context, token string) (*authdomain.User, error)
	BuildAuthContext(ctx context.Context, user *authdomain.User) (*authdomain.AuthContext, error)

	RegisterFCMToken(ctx context.Context, userID, token, deviceInfo string) error
	UnregisterFCMToken(ctx context.Context, token string) error
}

// OrganizationUsecase manages organizations and their members
type OrganizationUsecase interface {
	Create(ctx context.Context, auth *authdomain.AuthContext, req *authdto.CreateOrganizationRequest) (*authdomain.Organization, error)
	List(ctx context.Context, auth *authdomain.AuthContext) ([]repository.OrganizationWithRole, error)
	AddMember(ctx context.Context, auth *authdomain.AuthContext, orgID string, req *authdto.AddMemberRequest) (*authdomain.Membership, error)
	UpdateMemberRole(ctx context.Context, auth *authdomain.AuthContext, orgID, userID string, req *authdto.UpdateMemberRequest) (*authdomain.Membership, error)
	RemoveMember(ctx context.Context, auth *authdomain.AuthContext, orgID, userID string) error
	ListMembers(ctx context.Context, auth *authdomain.AuthContext, orgID string) ([]repository.MemberView, error)
}
