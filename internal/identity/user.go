package identity

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nyaruka/phonenumbers"
	"golang.org/x/oauth2"
)

// defaultPhoneRegion is used when a phone_number claim lacks a country code.
const defaultPhoneRegion = "US"

// User is the signed-in principal as persisted in browser storage.
type User struct {
	IDToken      string    `json:"id_token,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	// State is the return state threaded through the sign-in redirect.
	State   string  `json:"state,omitempty"`
	Profile Profile `json:"profile"`
}

// Profile holds the ID token claims. No user-info call is made.
type Profile struct {
	Subject       string         `json:"sub"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	Name          string         `json:"name,omitempty"`
	GivenName     string         `json:"given_name,omitempty"`
	FamilyName    string         `json:"family_name,omitempty"`
	Nickname      string         `json:"nickname,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	PhoneNumber   string         `json:"phone_number,omitempty"`
	Claims        map[string]any `json:"claims,omitempty"`
}

// Expired reports whether the access token has expired at now.
// Users without a known expiry never expire.
func (u *User) Expired(now time.Time) bool {
	if u == nil {
		return true
	}
	return !u.ExpiresAt.IsZero() && !now.Before(u.ExpiresAt)
}

// ExpiresIn returns the time left on the access token.
func (u *User) ExpiresIn(now time.Time) time.Duration {
	if u == nil || u.ExpiresAt.IsZero() {
		return 0
	}
	return u.ExpiresAt.Sub(now)
}

func newUser(token *oauth2.Token, idToken string, profile Profile, returnState string) *User {
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	scope, _ := token.Extra("scope").(string)

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = accessTokenExpiry(token.AccessToken)
	}

	return &User{
		IDToken:      idToken,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    tokenType,
		Scope:        scope,
		ExpiresAt:    expiresAt,
		State:        returnState,
		Profile:      profile,
	}
}

// accessTokenExpiry reads exp from a JWT access token without verifying it.
// The token is only ever presented to the backend, which verifies it.
func accessTokenExpiry(accessToken string) time.Time {
	if strings.Count(accessToken, ".") != 2 {
		return time.Time{}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func profileFromClaims(claims map[string]any) Profile {
	str := func(key string) string {
		value, _ := claims[key].(string)
		return strings.TrimSpace(value)
	}
	verified, _ := claims["email_verified"].(bool)

	return Profile{
		Subject:       str("sub"),
		Email:         str("email"),
		EmailVerified: verified,
		Name:          str("name"),
		GivenName:     str("given_name"),
		FamilyName:    str("family_name"),
		Nickname:      str("nickname"),
		Picture:       str("picture"),
		PhoneNumber:   normalizePhone(str("phone_number")),
		Claims:        claims,
	}
}

// normalizePhone formats a phone claim as E.164. Unparseable values are kept as sent.
func normalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, defaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
