package usecase

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
	calendarapi "google.golang.org/api/calendar/v3"
	gmailapi "google.golang.org/api/gmail/v1"

	"kyra-backend/pkg/config"
)

// GoogleProfile is the identity returned by the userinfo endpoint
type GoogleProfile struct {
	Email    string
	Name     string
	Picture  string
	Verified bool
}

// GoogleOAuth runs the authorization code flow
type GoogleOAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, *GoogleProfile, error)
}

type googleOAuth struct {
	config *oauth2.Config
}

// NewGoogleOAuth requests offline Gmail, Calendar and profile access
func NewGoogleOAuth(cfg config.GoogleConfig) GoogleOAuth {
	return &googleOAuth{config: &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			"openid",
			oauth2api.UserinfoEmailScope,
			oauth2api.UserinfoProfileScope,
			gmailapi.GmailModifyScope,
			calendarapi.CalendarScope,
		},
	}}
}

func (g *googleOAuth) AuthCodeURL(state string) string {
	// prompt=consent makes Google return a refresh token on every login
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (g *googleOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, *GoogleProfile, error) {
	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	srv, err := oauth2api.NewService(ctx, option.WithTokenSource(g.config.TokenSource(ctx, tok)))
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create userinfo service: %w", err)
	}
	info, err := srv.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	profile := &GoogleProfile{
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}
	if info.VerifiedEmail != nil {
		profile.Verified = *info.VerifiedEmail
	}
	return tok, profile, nil
}
