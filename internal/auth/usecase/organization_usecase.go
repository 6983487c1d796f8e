package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	authdomain "kyra-backend/internal/auth/domain"
	authdto "kyra-backend/internal/auth/dto"
	"kyra-backend/internal/auth/repository"
)

var (
	ErrInvalidRole      = errors.New("invalid role")
	ErrMemberNotFound   = errors.New("member not found")
	ErrOwnerCannotLeave = errors.New("owner cannot remove themselves")
)

type organizationUsecase struct {
	orgRepo  repository.OrganizationRepository
	userRepo repository.UserRepository
}

func NewOrganizationUsecase(orgRepo repository.OrganizationRepository, userRepo repository.UserRepository) OrganizationUsecase {
	return &organizationUsecase{orgRepo: orgRepo, userRepo: userRepo}
}

// Create makes the caller the owner of a new organization
func (u *organizationUsecase) Create(ctx context.Context, auth *authdomain.AuthContext, req *authdto.CreateOrganizationRequest) (*authdomain.Organization, error) {
	plan := strings.TrimSpace(req.PlanType)
	if plan == "" {
		plan = "free"
	}
	org := &authdomain.Organization{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(req.Name),
		PlanType:  plan,
		OwnerID:   auth.UserID,
		CreatedAt: time.Now(),
	}
	if err := u.orgRepo.CreateWithOwner(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	return org, nil
}

func (u *organizationUsecase) List(ctx context.Context, auth *authdomain.AuthContext) ([]repository.OrganizationWithRole, error) {
	return u.orgRepo.ListForUser(ctx, auth.UserID)
}

func (u *organizationUsecase) AddMember(ctx context.Context, auth *authdomain.AuthContext, orgID string, req *authdto.AddMemberRequest) (*authdomain.Membership, error) {
	if err := auth.Require(orgID, authdomain.PermManageMembers); err != nil {
		return nil, err
	}
	role := authdomain.Role(req.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w %q", ErrInvalidRole, req.Role)
	}
	// Only an owner hands out ownership
	if role == authdomain.RoleOwner {
		if err := auth.Require(orgID, authdomain.PermManageOrganization); err != nil {
			return nil, err
		}
	}

	user, err := u.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", req.Email)
	}

	m := &authdomain.Membership{
		OrganizationID: orgID,
		UserID:         user.ID,
		Role:           role,
		JoinedAt:       time.Now(),
	}
	if err := u.orgRepo.AddMember(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return m, nil
}

// UpdateMemberRole changes the role of an existing member. Granting or taking away
// ownership needs the owner role.
func (u *organizationUsecase) UpdateMemberRole(ctx context.Context, auth *authdomain.AuthContext, orgID, userID string, req *authdto.UpdateMemberRequest) (*authdomain.Membership, error) {
	if err := auth.Require(orgID, authdomain.PermManageMembers); err != nil {
		return nil, err
	}
	role := authdomain.Role(req.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w %q", ErrInvalidRole, req.Role)
	}

	m, err := u.orgRepo.FindMembership(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMemberNotFound
	}
	if role == authdomain.RoleOwner || m.Role == authdomain.RoleOwner {
		if err := auth.Require(orgID, authdomain.PermManageOrganization); err != nil {
			return nil, err
		}
	}

	if err := u.orgRepo.UpdateRole(ctx, orgID, userID, role); err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	m.Role = role
	return m, nil
}

// RemoveMember deletes a membership. Owners can't remove themselves and only an
// owner removes another owner.
func (u *organizationUsecase) RemoveMember(ctx context.Context, auth *authdomain.AuthContext, orgID, userID string) error {
	if err := auth.Require(orgID, authdomain.PermManageMembers); err != nil {
		return err
	}
	if userID == auth.UserID && auth.Can(orgID, authdomain.PermManageOrganization) {
		return ErrOwnerCannotLeave
	}

	m, err := u.orgRepo.FindMembership(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrMemberNotFound
	}
	if m.Role == authdomain.RoleOwner {
		if err := auth.Require(orgID, authdomain.PermManageOrganization); err != nil {
			return err
		}
	}

	if err := u.orgRepo.RemoveMember(ctx, orgID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

func (u *organizationUsecase) ListMembers(ctx context.Context, auth *authdomain.AuthContext, orgID string) ([]repository.MemberView, error) {
	if err := auth.Require(orgID, authdomain.PermReadEmails); err != nil {
		return nil, err
	}
	return u.orgRepo.ListMembers(ctx, orgID)
}
