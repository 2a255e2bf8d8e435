package service

import (
	"errors"
	"fmt"

	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// Error kinds. Every error below wraps exactly one of these, so callers can
// branch on the kind with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConstraint   = errors.New("constraint violation")
	ErrInput        = errors.New("invalid input")
)

var (
	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)
	ErrHexNotFound        = fmt.Errorf("hex %w", ErrNotFound)
	ErrTownHexNotFound    = fmt.Errorf("town map hex %w", ErrNotFound)
	ErrExpeditionNotFound = fmt.Errorf("expedition %w", ErrNotFound)
	ErrSubmissionNotFound = fmt.Errorf("submission %w", ErrNotFound)
	ErrConflictNotFound   = fmt.Errorf("conflict %w", ErrNotFound)
	ErrPOINotFound        = fmt.Errorf("point of interest %w", ErrNotFound)

	ErrExpeditionNotActive    = fmt.Errorf("expedition is not active: %w", ErrInvalidState)
	ErrExpeditionNotCompleted = fmt.Errorf("expedition must be completed before submitting: %w", ErrInvalidState)
	ErrNotLeader              = fmt.Errorf("only the expedition leader can do that: %w", ErrInvalidState)
	ErrNotMember              = fmt.Errorf("user is not a current member of this expedition: %w", ErrInvalidState)
	ErrNotFormerMember        = fmt.Errorf("user has not left this expedition: %w", ErrInvalidState)
	ErrLeaderMustReassign     = fmt.Errorf("leader must hand over leadership before leaving: %w", ErrInvalidState)
	ErrConflictResolved       = fmt.Errorf("conflict is already resolved: %w", ErrInvalidState)
	ErrCannotArchive          = fmt.Errorf("only completed expeditions can be archived: %w", ErrInvalidState)

	ErrHexExists           = fmt.Errorf("a hex already exists at that position: %w", ErrConstraint)
	ErrAlreadyInExpedition = fmt.Errorf("user is already in an active expedition: %w", ErrConstraint)
	ErrAlreadyMember       = fmt.Errorf("user already joined this expedition: %w", ErrConstraint)
	ErrAlreadySubmitted    = fmt.Errorf("expedition has already been submitted: %w", ErrConstraint)
	ErrAlreadyPushed       = fmt.Errorf("member has already pushed their map: %w", ErrConstraint)
	ErrAlreadyVoted        = fmt.Errorf("player has already voted on this conflict: %w", ErrConstraint)

	ErrInvalidResolution = fmt.Errorf("resolution must be accept_new, keep_existing, verification or gm_override: %w", ErrInput)
	ErrInvalidName       = fmt.Errorf("name is required: %w", ErrInput)
	ErrBorderTooLarge    = fmt.Errorf("border distance must not exceed %d: %w", MaxBorderDistance, ErrInput)
)

// inputErr folds hexmap validation errors into the ErrInput kind.
func inputErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, hexmap.ErrInvalidInput) {
		return fmt.Errorf("%w: %w", ErrInput, err)
	}
	return err
}
