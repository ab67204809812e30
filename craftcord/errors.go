package craftcord

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientResource is matched by every [InsufficientResourceError]
	ErrInsufficientResource = errors.New("insufficient resource")

	ErrPlayerNotFound  = errors.New("player not found")
	ErrUnknownCreature = errors.New("unknown creature")
	ErrUnknownItem     = errors.New("unknown item")
	ErrPenFull         = errors.New("pen is full")
	ErrRunNotActive    = errors.New("stronghold run is not active")
)

// ErrorKind classifies a command failure for the reply adapter.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindUserInput
	KindCooldown
	KindPermission
)

func (k ErrorKind) String() string {
	switch k {
	case KindUserInput:
		return "user_input"
	case KindCooldown:
		return "cooldown"
	case KindPermission:
		return "permission"
	default:
		return "internal"
	}
}

// CommandError is returned by command handlers for failures the player
// should be told about. Message is shown verbatim.
type CommandError struct {
	Kind      ErrorKind
	Message   string
	Remaining time.Duration
	Err       error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func userError(format string, args ...any) *CommandError {
	return &CommandError{Kind: KindUserInput, Message: fmt.Sprintf(format, args...)}
}

func cooldownError(action string, remaining time.Duration) *CommandError {
	return &CommandError{
		Kind:      KindCooldown,
		Message:   fmt.Sprintf("⏳ You can %s again in %s.", action, formatDuration(remaining)),
		Remaining: remaining,
	}
}

func permissionError(format string, args ...any) *CommandError {
	return &CommandError{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

// InsufficientResourceError is returned when taking more of an item than
// a player holds.
type InsufficientResourceError struct {
	Item string
	Need int64
	Have int64
}

func (e *InsufficientResourceError) Error() string {
	return fmt.Sprintf(
		"insufficient %s: need %d, have %d",
		e.Item,
		e.Need,
		e.Have,
	)
}

func (e *InsufficientResourceError) Is(target error) bool {
	return target == ErrInsufficientResource
}

// errorKind reports how err should be surfaced. Insufficient resources
// count as user input, since the fix is on the player's side.
func errorKind(err error) ErrorKind {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Kind
	}
	if errors.Is(err, ErrInsufficientResource) ||
		errors.Is(err, ErrUnknownCreature) ||
		errors.Is(err, ErrUnknownItem) ||
		errors.Is(err, ErrPenFull) {
		return KindUserInput
	}
	return KindInternal
}

// userFacingMessage returns the reply for err, or fallback for
// internal errors
func userFacingMessage(err error, fallback string) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Kind != KindInternal {
		return cmdErr.Message
	}
	var insufficient *InsufficientResourceError
	if errors.As(err, &insufficient) {
		return fmt.Sprintf(
			"❌ You need %d %s but only have %d.",
			insufficient.Need,
			insufficient.Item,
			insufficient.Have,
		)
	}
	switch {
	case errors.Is(err, ErrUnknownCreature):
		return "❌ I don't know that creature."
	case errors.Is(err, ErrUnknownItem):
		return "❌ I don't know that item."
	case errors.Is(err, ErrPenFull):
		return "❌ Your pen is full."
	}
	return fallback
}
