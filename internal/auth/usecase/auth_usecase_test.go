package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	authdomain "kyra-backend/internal/auth/domain"
	authdto "kyra-backend/internal/auth/dto"
	"kyra-backend/internal/auth/repository"
	emaildomain "kyra-backend/internal/email/domain"
	emailrepo "kyra-backend/internal/email/repository"
	"kyra-backend/pkg/config"
)

type memUsers struct {
	mu     sync.Mutex
	users  map[string]*authdomain.User
	tokens map[string]*authdomain.RefreshToken
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*authdomain.User{}, tokens: map[string]*authdomain.RefreshToken{}}
}

func (m *memUsers) Create(_ context.Context, u *authdomain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = "user-" + u.Email
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*authdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (*authdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUsers) Update(_ context.Context, u *authdomain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) FindRefreshToken(_ context.Context, token string) (*authdomain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[token], nil
}

func (m *memUsers) DeleteRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *memUsers) ReplaceRefreshToken(_ context.Context, t *authdomain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.Token] = t
	return nil
}

type memOrgs struct {
	repository.OrganizationRepository
	memberships []authdomain.Membership
}

func (m *memOrgs) Memberships(_ context.Context, userID string) ([]authdomain.Membership, error) {
	var out []authdomain.Membership
	for _, ms := range m.memberships {
		if ms.UserID == userID {
			out = append(out, ms)
		}
	}
	return out, nil
}

func (m *memOrgs) AddMember(_ context.Context, ms *authdomain.Membership) error {
	m.memberships = append(m.memberships, *ms)
	return nil
}

func (m *memOrgs) FindMembership(_ context.Context, orgID, userID string) (*authdomain.Membership, error) {
	for _, ms := range m.memberships {
		if ms.OrganizationID == orgID && ms.UserID == userID {
			cp := ms
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memOrgs) UpdateRole(_ context.Context, orgID, userID string, role authdomain.Role) error {
	for i := range m.memberships {
		if m.memberships[i].OrganizationID == orgID && m.memberships[i].UserID == userID {
			m.memberships[i].Role = role
		}
	}
	return nil
}

func (m *memOrgs) RemoveMember(_ context.Context, orgID, userID string) error {
	kept := m.memberships[:0]
	for _, ms := range m.memberships {
		if ms.OrganizationID != orgID || ms.UserID != userID {
			kept = append(kept, ms)
		}
	}
	m.memberships = kept
	return nil
}

type memAccounts struct {
	emailrepo.AccountRepository
	byEmail map[string]*emaildomain.Account
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*emaildomain.Account, error) {
	if a, ok := m.byEmail[email]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *memAccounts) Upsert(_ context.Context, a *emaildomain.Account) error {
	if a.ID == "" {
		a.ID = "acct-" + a.EmailAddress
	}
	cp := *a
	m.byEmail[a.EmailAddress] = &cp
	return nil
}

type fakeGoogle struct {
	token   *oauth2.Token
	profile *GoogleProfile
}

func (f *fakeGoogle) AuthCodeURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (f *fakeGoogle) Exchange(context.Context, string) (*oauth2.Token, *GoogleProfile, error) {
	return f.token, f.profile, nil
}

type prefixSealer struct{}

func (prefixSealer) Seal(plain string) (string, error) { return "sealed:" + plain, nil }

type fixture struct {
	users    *memUsers
	orgs     *memOrgs
	accounts *memAccounts
	google   *fakeGoogle
	uc       AuthUsecase
}

func newFixture() *fixture {
	f := &fixture{
		users:    newMemUsers(),
		orgs:     &memOrgs{},
		accounts: &memAccounts{byEmail: map[string]*emaildomain.Account{}},
		google:   &fakeGoogle{},
	}
	f.uc = NewAuthUsecase(f.users, nil, f.orgs, f.accounts, f.google, nil, prefixSealer{}, config.AuthConfig{
		JWTSecret:        "test-secret",
		JWTAccessExpiry:  time.Hour,
		JWTRefreshExpiry: 24 * time.Hour,
	}, zap.NewNop())
	return f
}

func TestRegisterLoginValidate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	reg, err := f.uc.Register(ctx, &authdto.RegisterRequest{Email: "a@srmist.edu.in", Password: "secret1", Name: "A"})
	require.NoError(t, err)
	assert.NotEmpty(t, reg.AccessToken)

	_, err = f.uc.Register(ctx, &authdto.RegisterRequest{Email: "a@srmist.edu.in", Password: "secret1", Name: "A"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = f.uc.Login(ctx, &authdto.LoginRequest{Email: "a@srmist.edu.in", Password: "wrong-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	login, err := f.uc.Login(ctx, &authdto.LoginRequest{Email: "a@srmist.edu.in", Password: "secret1"})
	require.NoError(t, err)

	user, err := f.uc.ValidateToken(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@srmist.edu.in", user.Email)

	_, err = f.uc.ValidateToken(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "refresh tokens are not access tokens")

	_, err = f.uc.ValidateToken(ctx, login.AccessToken+"x")
	assert.Error(t, err)
}

func TestRefreshTokenRotates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	reg, err := f.uc.Register(ctx, &authdto.RegisterRequest{Email: "b@example.com", Password: "secret1", Name: "B"})
	require.NoError(t, err)

	next, err := f.uc.RefreshToken(ctx, reg.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, reg.RefreshToken, next.RefreshToken)

	_, err = f.uc.RefreshToken(ctx, reg.RefreshToken)
	assert.Error(t, err, "a used refresh token is rejected")
}

func TestGoogleCallbackSealsTokensAndKeepsRefreshToken(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.google.profile = &GoogleProfile{Email: "c@srmist.edu.in", Name: "C", Verified: true}
	f.google.token = &oauth2.Token{AccessToken: "at-1", RefreshToken: "rt-1", Expiry: time.Now().Add(time.Hour)}

	resp, acct, err := f.uc.GoogleCallback(ctx, "code")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, emaildomain.ProviderGmail, acct.Provider)
	assert.Equal(t, "sealed:at-1", acct.AccessToken)
	assert.Equal(t, "sealed:rt-1", acct.RefreshToken)
	assert.Equal(t, resp.User.ID, acct.UserID)

	// Second consent without a refresh token
	f.google.token = &oauth2.Token{AccessToken: "at-2"}
	_, acct2, err := f.uc.GoogleCallback(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, acct2.ID)
	assert.Equal(t, "sealed:at-2", acct2.AccessToken)
	assert.Equal(t, "sealed:rt-1", acct2.RefreshToken)
}

func TestGoogleCallbackRejectsUnverifiedEmail(t *testing.T) {
	f := newFixture()
	f.google.profile = &GoogleProfile{Email: "d@example.com"}
	f.google.token = &oauth2.Token{AccessToken: "at"}

	_, _, err := f.uc.GoogleCallback(context.Background(), "code")
	assert.ErrorIs(t, err, ErrUnverifiedEmail)
}

func TestBuildAuthContext(t *testing.T) {
	f := newFixture()
	f.orgs.memberships = []authdomain.Membership{
		{OrganizationID: "org-1", UserID: "u1", Role: authdomain.RoleAdmin},
		{OrganizationID: "org-2", UserID: "u2", Role: authdomain.RoleOwner},
	}
	auth, err := f.uc.BuildAuthContext(context.Background(), &authdomain.User{ID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	require.Len(t, auth.Memberships, 1)
	assert.True(t, auth.Can("org-1", authdomain.PermManageMembers))
	assert.False(t, auth.Can("org-2", authdomain.PermReadEmails))
}

func TestAddMemberRequiresPermission(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.users.Create(ctx, &authdomain.User{ID: "new", Email: "new@example.com"}))
	uc := NewOrganizationUsecase(f.orgs, f.users)

	member := &authdomain.AuthContext{UserID: "m", Memberships: []authdomain.Membership{{OrganizationID: "org", UserID: "m", Role: authdomain.RoleMember}}}
	_, err := uc.AddMember(ctx, member, "org", &authdto.AddMemberRequest{Email: "new@example.com", Role: "viewer"})
	assert.ErrorIs(t, err, authdomain.ErrForbidden)

	admin := &authdomain.AuthContext{UserID: "a", Memberships: []authdomain.Membership{{OrganizationID: "org", UserID: "a", Role: authdomain.RoleAdmin}}}
	_, err = uc.AddMember(ctx, admin, "org", &authdto.AddMemberRequest{Email: "new@example.com", Role: "owner"})
	assert.ErrorIs(t, err, authdomain.ErrForbidden, "only owners grant ownership")

	_, err = uc.AddMember(ctx, admin, "org", &authdto.AddMemberRequest{Email: "new@example.com", Role: "superuser"})
	assert.ErrorIs(t, err, ErrInvalidRole)

	m, err := uc.AddMember(ctx, admin, "org", &authdto.AddMemberRequest{Email: "new@example.com", Role: "viewer"})
	require.NoError(t, err)
	assert.Equal(t, "new", m.UserID)
	assert.Equal(t, authdomain.RoleViewer, m.Role)
}

func orgFixture() (*memOrgs, OrganizationUsecase, map[authdomain.Role]*authdomain.AuthContext) {
	orgs := &memOrgs{memberships: []authdomain.Membership{
		{OrganizationID: "org", UserID: "owner", Role: authdomain.RoleOwner},
		{OrganizationID: "org", UserID: "admin", Role: authdomain.RoleAdmin},
		{OrganizationID: "org", UserID: "member", Role: authdomain.RoleMember},
	}}
	callers := make(map[authdomain.Role]*authdomain.AuthContext)
	for _, ms := range orgs.memberships {
		callers[ms.Role] = &authdomain.AuthContext{UserID: ms.UserID, Memberships: []authdomain.Membership{ms}}
	}
	return orgs, NewOrganizationUsecase(orgs, newMemUsers()), callers
}

func TestUpdateMemberRole(t *testing.T) {
	ctx := context.Background()

	t.Run("admin promotes a member", func(t *testing.T) {
		orgs, uc, callers := orgFixture()
		m, err := uc.UpdateMemberRole(ctx, callers[authdomain.RoleAdmin], "org", "member", &authdto.UpdateMemberRequest{Role: "admin"})
		require.NoError(t, err)
		assert.Equal(t, authdomain.RoleAdmin, m.Role)
		got, _ := orgs.FindMembership(ctx, "org", "member")
		assert.Equal(t, authdomain.RoleAdmin, got.Role)
	})

	t.Run("member cannot change roles", func(t *testing.T) {
		_, uc, callers := orgFixture()
		_, err := uc.UpdateMemberRole(ctx, callers[authdomain.RoleMember], "org", "admin", &authdto.UpdateMemberRequest{Role: "viewer"})
		assert.ErrorIs(t, err, authdomain.ErrForbidden)
	})

	t.Run("admin cannot touch ownership", func(t *testing.T) {
		_, uc, callers := orgFixture()
		_, err := uc.UpdateMemberRole(ctx, callers[authdomain.RoleAdmin], "org", "member", &authdto.UpdateMemberRequest{Role: "owner"})
		assert.ErrorIs(t, err, authdomain.ErrForbidden)
		_, err = uc.UpdateMemberRole(ctx, callers[authdomain.RoleAdmin], "org", "owner", &authdto.UpdateMemberRequest{Role: "viewer"})
		assert.ErrorIs(t, err, authdomain.ErrForbidden)
	})

	t.Run("unknown member and role", func(t *testing.T) {
		_, uc, callers := orgFixture()
		_, err := uc.UpdateMemberRole(ctx, callers[authdomain.RoleOwner], "org", "ghost", &authdto.UpdateMemberRequest{Role: "viewer"})
		assert.ErrorIs(t, err, ErrMemberNotFound)
		_, err = uc.UpdateMemberRole(ctx, callers[authdomain.RoleOwner], "org", "member", &authdto.UpdateMemberRequest{Role: "root"})
		assert.ErrorIs(t, err, ErrInvalidRole)
	})
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()

	t.Run("admin removes a member", func(t *testing.T) {
		orgs, uc, callers := orgFixture()
		require.NoError(t, uc.RemoveMember(ctx, callers[authdomain.RoleAdmin], "org", "member"))
		got, _ := orgs.FindMembership(ctx, "org", "member")
		assert.Nil(t, got)
	})

	t.Run("owner cannot remove themselves", func(t *testing.T) {
		_, uc, callers := orgFixture()
		assert.ErrorIs(t, uc.RemoveMember(ctx, callers[authdomain.RoleOwner], "org", "owner"), ErrOwnerCannotLeave)
	})

	t.Run("admin cannot remove the owner", func(t *testing.T) {
		_, uc, callers := orgFixture()
		assert.ErrorIs(t, uc.RemoveMember(ctx, callers[authdomain.RoleAdmin], "org", "owner"), authdomain.ErrForbidden)
	})

	t.Run("member cannot remove anyone", func(t *testing.T) {
		_, uc, callers := orgFixture()
		assert.ErrorIs(t, uc.RemoveMember(ctx, callers[authdomain.RoleMember], "org", "admin"), authdomain.ErrForbidden)
	})

	t.Run("unknown member", func(t *testing.T) {
		_, uc, callers := orgFixture()
		assert.ErrorIs(t, uc.RemoveMember(ctx, callers[authdomain.RoleOwner], "org", "ghost"), ErrMemberNotFound)
	})
}
