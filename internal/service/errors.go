package service

import "errors"

var (
	ErrThreadNotFound     = errors.New("thread not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrSuggestionNotFound = errors.New("suggestion not found")
	ErrEntityNotFound     = errors.New("entity not found")
	ErrUserNotFound       = errors.New("user not found")

	ErrInvalidThread     = errors.New("invalid thread")
	ErrInvalidSuggestion = errors.New("invalid suggestion")
	ErrUnsupportedChange = errors.New("unsupported change command")

	// ErrSuggestionResolved is returned for accept/reject on a suggestion that
	// has already left review.
	ErrSuggestionResolved = errors.New("suggestion has already been accepted/rejected")
	// ErrSuggestionNotValid is returned by accept after the suggestion was
	// found invalid and marked so.
	ErrSuggestionNotValid = errors.New("suggestion is not valid")
	ErrEmptyCommitMessage = errors.New("commit message cannot be empty")
)
