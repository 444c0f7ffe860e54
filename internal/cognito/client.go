// Package cognito ends sessions against an Amazon Cognito user pool, which
// does not publish an end_session_endpoint in its discovery document.
package cognito

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/rs/zerolog/log"

	"github.com/codr1/LeagueConsole/internal/config"
	"github.com/codr1/LeagueConsole/internal/identity"
)

// ErrCognitoThrottled marks errors returned when Cognito throttles requests.
var ErrCognitoThrottled = errors.New("cognito throttling")

// ErrCognitoNotAuthorized marks errors returned when Cognito rejects credentials.
var ErrCognitoNotAuthorized = errors.New("cognito not authorized")

// ErrCognitoUnsupportedToken marks refresh tokens Cognito cannot revoke.
var ErrCognitoUnsupportedToken = errors.New("cognito token not revocable")

type tokenRevoker interface {
	RevokeToken(ctx context.Context, params *cognitoidentityprovider.RevokeTokenInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.RevokeTokenOutput, error)
}

// SignoutHook revokes the refresh token of the departing user and builds the
// hosted UI logout URL.
type SignoutHook struct {
	client       tokenRevoker
	domain       string
	clientID     string
	clientSecret string
}

var _ identity.SignoutHook = (*SignoutHook)(nil)

// NewSignoutHook creates a hook for the configured pool.
// The region is extracted from the pool ID (format: "region_poolid").
func NewSignoutHook(ctx context.Context, cfg *config.Config) (*SignoutHook, error) {
	region, err := regionFromPoolID(cfg.Identity.Cognito.PoolID)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if key := cfg.Identity.Cognito.AccessKeyID; key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, cfg.Identity.Cognito.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newSignoutHook(
		cognitoidentityprovider.NewFromConfig(awsCfg),
		cfg.Identity.Cognito.Domain,
		cfg.Identity.ClientID,
		cfg.Identity.ClientSecret,
	), nil
}

func newSignoutHook(client tokenRevoker, domain, clientID, clientSecret string) *SignoutHook {
	domain = strings.TrimSuffix(strings.TrimPrefix(domain, "https://"), "/")
	return &SignoutHook{client: client, domain: domain, clientID: clientID, clientSecret: clientSecret}
}

// Signout revokes the refresh token when there is one and returns the logout
// URL. Revocation is best effort: the local user is already gone and the
// hosted logout clears the provider cookie either way.
func (h *SignoutHook) Signout(ctx context.Context, user *identity.User, postLogoutRedirectURI string) (string, error) {
	if user != nil && user.RefreshToken != "" {
		if err := h.revoke(ctx, user.RefreshToken); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("Failed to revoke refresh token")
		}
	}
	return h.LogoutURL(postLogoutRedirectURI), nil
}

// LogoutURL is the hosted UI logout endpoint for the pool domain.
func (h *SignoutHook) LogoutURL(postLogoutRedirectURI string) string {
	query := url.Values{}
	query.Set("client_id", h.clientID)
	if postLogoutRedirectURI != "" {
		query.Set("logout_uri", postLogoutRedirectURI)
	}
	target := url.URL{Scheme: "https", Host: h.domain, Path: "/logout", RawQuery: query.Encode()}
	return target.String()
}

func (h *SignoutHook) revoke(ctx context.Context, refreshToken string) error {
	input := &cognitoidentityprovider.RevokeTokenInput{
		ClientId: aws.String(h.clientID),
		Token:    aws.String(refreshToken),
	}
	if h.clientSecret != "" {
		input.ClientSecret = aws.String(h.clientSecret)
	}
	if _, err := h.client.RevokeToken(ctx, input); err != nil {
		return mapCognitoError(err)
	}
	return nil
}

func mapCognitoError(err error) error {
	var throttled *types.TooManyRequestsException
	if errors.As(err, &throttled) {
		return fmt.Errorf("%w: %v", ErrCognitoThrottled, err)
	}
	var notAuthorized *types.NotAuthorizedException
	if errors.As(err, &notAuthorized) {
		return fmt.Errorf("%w: %v", ErrCognitoNotAuthorized, err)
	}
	var unsupported *types.UnsupportedTokenTypeException
	if errors.As(err, &unsupported) {
		return fmt.Errorf("%w: %v", ErrCognitoUnsupportedToken, err)
	}
	var unsupportedOp *types.UnsupportedOperationException
	if errors.As(err, &unsupportedOp) {
		return fmt.Errorf("%w: %v", ErrCognitoUnsupportedToken, err)
	}
	return err
}

func regionFromPoolID(poolID string) (string, error) {
	parts := strings.SplitN(poolID, "_", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", fmt.Errorf("invalid cognito pool id: %q", poolID)
	}
	return parts[0], nil
}
