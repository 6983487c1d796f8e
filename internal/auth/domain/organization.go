package domain

import (
	"errors"
	"time"
)

var ErrForbidden = errors.New("forbidden")

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

type Permission string

const (
	PermReadEmails         Permission = "read_emails"
	PermWriteEmails        Permission = "write_emails"
	PermManageMembers      Permission = "manage_members"
	PermManageOrganization Permission = "manage_organization"
)

var permissionRoles = map[Permission][]Role{
	PermReadEmails:         {RoleOwner, RoleAdmin, RoleMember, RoleViewer},
	PermWriteEmails:        {RoleOwner, RoleAdmin, RoleMember},
	PermManageMembers:      {RoleOwner, RoleAdmin},
	PermManageOrganization: {RoleOwner},
}

// Grants reports whether role carries permission
func (r Role) Grants(p Permission) bool {
	for _, allowed := range permissionRoles[p] {
		if allowed == r {
			return true
		}
	}
	return false
}

type Organization struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	PlanType  string    `json:"plan_type" gorm:"default:free"`
	OwnerID   string    `json:"owner_id" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Organization) TableName() string {
	return "organizations"
}

// Membership links a user to an organization with a role
type Membership struct {
	OrganizationID string    `json:"organization_id" gorm:"primaryKey"`
	UserID         string    `json:"user_id" gorm:"primaryKey;index"`
	Role           Role      `json:"role" gorm:"not null;default:member"`
	JoinedAt       time.Time `json:"joined_at"`
}

func (Membership) TableName() string {
	return "memberships"
}

// AuthContext is the caller identity threaded through the usecases
type AuthContext struct {
	UserID      string
	Email       string
	Memberships []Membership
}

// Can checks a permission. With an organization id the caller's role in that
// organization decides. Without one any membership granting it is enough, and a
// caller with no memberships at all acts on their own data.
func (a *AuthContext) Can(orgID string, p Permission) bool {
	if a == nil {
		return false
	}
	if orgID != "" {
		for _, m := range a.Memberships {
			if m.OrganizationID == orgID {
				return m.Role.Grants(p)
			}
		}
		return false
	}
	if len(a.Memberships) == 0 {
		return true
	}
	for _, m := range a.Memberships {
		if m.Role.Grants(p) {
			return true
		}
	}
	return false
}

// Require is Can returning ErrForbidden
func (a *AuthContext) Require(orgID string, p Permission) error {
	if !a.Can(orgID, p) {
		return ErrForbidden
	}
	return nil
}
