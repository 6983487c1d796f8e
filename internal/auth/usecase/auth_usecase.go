package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	authdomain "kyra-backend/internal/auth/domain"
	authdto "kyra-backend/internal/auth/dto"
	"kyra-backend/internal/auth/repository"
	emaildomain "kyra-backend/internal/email/domain"
	emailrepo "kyra-backend/internal/email/repository"
	"kyra-backend/pkg/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUnverifiedEmail    = errors.New("google email is not verified")
)

// Sealer encrypts provider credentials before they are stored
type Sealer interface {
	Seal(plain string) (string, error)
}

// IMAPVerifier checks a mailbox login before it is stored
type IMAPVerifier interface {
	Verify(ctx context.Context, acct *emaildomain.Account) error
}

// authUsecase implements AuthUsecase interface
type authUsecase struct {
	userRepo repository.UserRepository
	fcmRepo  repository.FCMTokenRepository
	orgRepo  repository.OrganizationRepository
	accounts emailrepo.AccountRepository
	google   GoogleOAuth
	imap     IMAPVerifier
	box      Sealer
	config   config.AuthConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewAuthUsecase creates a new instance of authUsecase
func NewAuthUsecase(
	userRepo repository.UserRepository,
	fcmRepo repository.FCMTokenRepository,
	orgRepo repository.OrganizationRepository,
	accounts emailrepo.AccountRepository,
	google GoogleOAuth,
	imap IMAPVerifier,
	box Sealer,
	cfg config.AuthConfig,
	log *zap.Logger,
) AuthUsecase {
	return &authUsecase{
		userRepo: userRepo,
		fcmRepo:  fcmRepo,
		orgRepo:  orgRepo,
		accounts: accounts,
		google:   google,
		imap:     imap,
		box:      box,
		config:   cfg,
		log:      log.Named("auth"),
		now:      time.Now,
	}
}

func (u *authUsecase) Login(ctx context.Context, req *authdto.LoginRequest) (*authdto.TokenResponse, error) {
	user, err := u.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if user.Provider != "email" {
		return nil, errors.New("please use Google Sign-In for this account")
	}

	if !repository.CheckPasswordHash(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	return u.generateTokens(ctx, user)
}

func (u *authUsecase) Register(ctx context.Context, req *authdto.RegisterRequest) (*authdto.TokenResponse, error) {
	existing, err := u.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return nil, ErrEmailTaken
	}

	hashedPassword, err := repository.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &authdomain.User{
		Email:    req.Email,
		Password: hashedPassword,
		Name:     req.Name,
		Provider: "email",
	}

	if err := u.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	return u.generateTokens(ctx, user)
}

func (u *authUsecase) GoogleLoginURL(state string) string {
	return u.google.AuthCodeURL(state)
}

func (u *authUsecase) GoogleCallback(ctx context.Context, code string) (*authdto.TokenResponse, *emaildomain.Account, error) {
	tok, profile, err := u.google.Exchange(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if !profile.Verified {
		return nil, nil, ErrUnverifiedEmail
	}

	user, err := u.userRepo.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		user = &authdomain.User{
			Email:     profile.Email,
			Name:      profile.Name,
			AvatarURL: profile.Picture,
			Provider:  "google",
		}
		if err := u.userRepo.Create(ctx, user); err != nil {
			return nil, nil, err
		}
	} else {
		user.Name = profile.Name
		user.AvatarURL = profile.Picture
		if err := u.userRepo.Update(ctx, user); err != nil {
			return nil, nil, err
		}
	}

	existing, err := u.accounts.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, nil, err
	}
	acct := &emaildomain.Account{
		UserID:       user.ID,
		EmailAddress: profile.Email,
		Provider:     emaildomain.ProviderGmail,
	}
	if acct.AccessToken, err = u.seal(tok.AccessToken); err != nil {
		return nil, nil, err
	}
	switch {
	case tok.RefreshToken != "":
		if acct.RefreshToken, err = u.seal(tok.RefreshToken); err != nil {
			return nil, nil, err
		}
	case existing != nil:
		// Google omits the refresh token on repeat consent; keep the stored one
		acct.RefreshToken = existing.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		acct.TokenExpiry = &expiry
	}
	if existing != nil {
		acct.ID = existing.ID
	}
	if err := u.accounts.Upsert(ctx, acct); err != nil {
		return nil, nil, fmt.Errorf("failed to save account: %w", err)
	}
	stored, err := u.accounts.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, nil, err
	}

	resp, err := u.generateTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	u.log.Info("google account connected", zap.String("user_id", user.ID), zap.String("account_id", stored.ID))
	return resp, stored, nil
}

func (u *authUsecase) ConnectIMAP(ctx context.Context, userID string, req *authdto.IMAPConnectRequest) (*emaildomain.Account, error) {
	acct := &emaildomain.Account{
		UserID:       userID,
		EmailAddress: req.Email,
		Provider:     emaildomain.ProviderIMAP,
		ImapServer:   req.ImapServer,
		ImapPort:     req.ImapPort,
		ImapPassword: req.Password,
		SmtpServer:   req.SmtpServer,
		SmtpPort:     req.SmtpPort,
	}
	if acct.ImapPort == 0 {
		acct.ImapPort = 993
	}
	if u.imap != nil {
		if err := u.imap.Verify(ctx, acct); err != nil {
			return nil, err
		}
	}

	existing, err := u.accounts.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.UserID != userID {
			return nil, authdomain.ErrForbidden
		}
		acct.ID = existing.ID
	}
	if acct.ImapPassword, err = u.seal(req.Password); err != nil {
		return nil, err
	}
	if err := u.accounts.Upsert(ctx, acct); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}
	return u.accounts.FindByEmail(ctx, req.Email)
}

func (u *authUsecase) seal(plain string) (string, error) {
	if u.box == nil || plain == "" {
		return plain, nil
	}
	sealed, err := u.box.Seal(plain)
	if err != nil {
		return "", fmt.Errorf("failed to seal credentials: %w", err)
	}
	return sealed, nil
}

func (u *authUsecase) RefreshToken(ctx context.Context, refreshToken string) (*authdto.TokenResponse, error) {
	claims, err := u.parse(refreshToken)
	if err != nil {
		return nil, errors.New("invalid refresh token")
	}

	storedToken, err := u.userRepo.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if storedToken == nil || storedToken.ExpiresAt.Before(u.now()) {
		return nil, errors.New("refresh token expired")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	user, err := u.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, errors.New("user not found")
	}

	// Rotate: the presented refresh token is single use
	if err := u.userRepo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return nil, err
	}
	return u.generateTokens(ctx, user)
}

func (u *authUsecase) Logout(ctx context.Context, refreshToken string) error {
	return u.userRepo.DeleteRefreshToken(ctx, refreshToken)
}

func (u *authUsecase) generateTokens(ctx context.Context, user *authdomain.User) (*authdto.TokenResponse, error) {
	now := u.now()
	accessToken, err := u.sign(jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"exp":     now.Add(u.config.JWTAccessExpiry).Unix(),
		"iat":     now.Unix(),
	})
	if err != nil {
		return nil, err
	}

	refreshToken, err := u.sign(jwt.MapClaims{
		"user_id":  user.ID,
		"token_id": uuid.New().String(),
		"exp":      now.Add(u.config.JWTRefreshExpiry).Unix(),
		"iat":      now.Unix(),
	})
	if err != nil {
		return nil, err
	}

	err = u.userRepo.ReplaceRefreshToken(ctx, &authdomain.RefreshToken{
		Token:     refreshToken,
		UserID:    user.ID,
		ExpiresAt: now.Add(u.config.JWTRefreshExpiry),
	})
	if err != nil {
		return nil, err
	}

	return &authdto.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, nil
}

func (u *authUsecase) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(u.config.JWTSecret))
}

func (u *authUsecase) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(u.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (u *authUsecase) ValidateToken(ctx context.Context, tokenString string) (*authdomain.User, error) {
	claims, err := u.parse(tokenString)
	if err != nil {
		return nil, err
	}
	// Refresh tokens carry a token_id and are not accepted as access tokens
	if _, isRefresh := claims["token_id"]; isRefresh {
		return nil, ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	user, err := u.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, errors.New("user not found")
	}

	return user, nil
}

func (u *authUsecase) BuildAuthContext(ctx context.Context, user *authdomain.User) (*authdomain.AuthContext, error) {
	memberships, err := u.orgRepo.Memberships(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	return &authdomain.AuthContext{
		UserID:      user.ID,
		Email:       user.Email,
		Memberships: memberships,
	}, nil
}

func (u *authUsecase) RegisterFCMToken(ctx context.Context, userID, token, deviceInfo string) error {
	return u.fcmRepo.SaveToken(ctx, userID, token, deviceInfo)
}

func (u *authUsecase) UnregisterFCMToken(ctx context.Context, token string) error {
	return u.fcmRepo.DeleteToken(ctx, token)
}
