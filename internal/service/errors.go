// Package service provides business logic for the application.
package service

import "errors"

// Service errors.
var (
	ErrSkillNotFound      = errors.New("skill not found")
	ErrForbidden          = errors.New("forbidden")
	ErrSelfReview         = errors.New("authors cannot review their own skill")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrInvalidAction      = errors.New("invalid review action")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrInvalidMerge       = errors.New("source and target must be different skills")
	ErrInvalidDateRange   = errors.New("invalid date range")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrAPIKeyNotFound     = errors.New("API key not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrInvalidState       = errors.New("invalid OAuth state")
	ErrGmailNotConfigured = errors.New("gmail integration not configured")
	ErrGmailNotConnected  = errors.New("gmail not connected")
)
