package identity

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

var (
	ErrInvalidCallback = errors.New("callback url has no code and state")
	ErrNoPendingSignin = errors.New("no matching pending sign-in")
	ErrStaleSignin     = errors.New("pending sign-in expired")
	ErrMissingIDToken  = errors.New("token response has no id_token")
	ErrNonceMismatch   = errors.New("id token nonce mismatch")
	ErrNoUser          = errors.New("no signed-in user")
	ErrNoRefreshToken  = errors.New("user has no refresh token")
	ErrLoginRequired   = errors.New("provider requires interactive login")
	ErrNoEndSessionURL = errors.New("provider has no end session endpoint")
	ErrUserChanged     = errors.New("user was removed or replaced during renewal")
)

// ProviderError carries an error the provider appended to the redirect URI.
type ProviderError struct {
	Code        string
	Description string
	State       string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("provider error: %s", e.Code)
	}
	return fmt.Sprintf("provider error: %s: %s", e.Code, e.Description)
}

// mapTokenError folds token endpoint rejections that require a fresh
// interactive login into ErrLoginRequired.
func mapTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant", "login_required", "consent_required", "interaction_required":
			return fmt.Errorf("%w: %v", ErrLoginRequired, err)
		}
	}
	return err
}
