package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	authdomain "kyra-backend/internal/auth/domain"
)

// OrganizationWithRole is an organization as seen by one member
type OrganizationWithRole struct {
	authdomain.Organization
	Role     authdomain.Role `json:"role"`
	JoinedAt time.Time       `json:"joined_at"`
}

// MemberView is a membership joined with its user
type MemberView struct {
	UserID   string          `json:"user_id"`
	Email    string          `json:"email"`
	Name     string          `json:"name"`
	Role     authdomain.Role `json:"role"`
	JoinedAt time.Time       `json:"joined_at"`
}

type OrganizationRepository interface {
	// CreateWithOwner creates the organization and the owner membership in one transaction
	CreateWithOwner(ctx context.Context, org *authdomain.Organization) error
	ListForUser(ctx context.Context, userID string) ([]OrganizationWithRole, error)
	Memberships(ctx context.Context, userID string) ([]authdomain.Membership, error)
	FindMembership(ctx context.Context, orgID, userID string) (*authdomain.Membership, error)
	AddMember(ctx context.Context, m *authdomain.Membership) error
	UpdateRole(ctx context.Context, orgID, userID string, role authdomain.Role) error
	RemoveMember(ctx context.Context, orgID, userID string) error
	ListMembers(ctx context.Context, orgID string) ([]MemberView, error)
}

type organizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

func (r *organizationRepository) CreateWithOwner(ctx context.Context, org *authdomain.Organization) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		return tx.Create(&authdomain.Membership{
			OrganizationID: org.ID,
			UserID:         org.OwnerID,
			Role:           authdomain.RoleOwner,
			JoinedAt:       org.CreatedAt,
		}).Error
	})
}

func (r *organizationRepository) ListForUser(ctx context.Context, userID string) ([]OrganizationWithRole, error) {
	var rows []OrganizationWithRole
	err := r.db.WithContext(ctx).
		Table("organizations").
		Select("organizations.*, memberships.role, memberships.joined_at").
		Joins("JOIN memberships ON memberships.organization_id = organizations.id").
		Where("memberships.user_id = ?", userID).
		Order("memberships.joined_at ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *organizationRepository) Memberships(ctx context.Context, userID string) ([]authdomain.Membership, error) {
	var ms []authdomain.Membership
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&ms).Error
	return ms, err
}

func (r *organizationRepository) FindMembership(ctx context.Context, orgID, userID string) (*authdomain.Membership, error) {
	var m authdomain.Membership
	err := r.db.WithContext(ctx).Where("organization_id = ? AND user_id = ?", orgID, userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// AddMember inserts the membership or updates the role of an existing one
func (r *organizationRepository) AddMember(ctx context.Context, m *authdomain.Membership) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(m).Error
}

func (r *organizationRepository) UpdateRole(ctx context.Context, orgID, userID string, role authdomain.Role) error {
	return r.db.WithContext(ctx).Model(&authdomain.Membership{}).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		Update("role", role).Error
}

func (r *organizationRepository) RemoveMember(ctx context.Context, orgID, userID string) error {
	return r.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		Delete(&authdomain.Membership{}).Error
}

func (r *organizationRepository) ListMembers(ctx context.Context, orgID string) ([]MemberView, error) {
	var rows []MemberView
	err := r.db.WithContext(ctx).
		Table("memberships").
		Select("users.id AS user_id, users.email, users.name, memberships.role, memberships.joined_at").
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.organization_id = ?", orgID).
		Order("memberships.joined_at ASC").
		Scan(&rows).Error
	return rows, err
}
