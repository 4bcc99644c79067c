package domain

import "errors"

// Error classes. Every error returned by a service either unwraps to one of
// these or is an unexpected failure that callers must treat as ErrInternal.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
)

// Error carries a user-visible message for one of the error classes.
type Error struct {
	Class error
	Msg   string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Class }

func NotFound(msg string) error     { return &Error{Class: ErrNotFound, Msg: msg} }
func Forbidden(msg string) error    { return &Error{Class: ErrForbidden, Msg: msg} }
func Validation(msg string) error   { return &Error{Class: ErrValidation, Msg: msg} }
func Conflict(msg string) error     { return &Error{Class: ErrConflict, Msg: msg} }
func Unauthenticated(msg string) error {
	return &Error{Class: ErrUnauthenticated, Msg: msg}
}

var (
	ErrInvalidID           = Validation("invalid id")
	ErrUserNotFound        = NotFound("user not found")
	ErrChatroomNotFound    = NotFound("chatroom not found")
	ErrGroupNotFound       = NotFound("group not found")
	ErrMessageNotFound     = NotFound("message not found")
	ErrNotMember           = Forbidden("you are not a member of this chatroom")
	ErrSelfChat            = Forbidden("you cannot start a chat with yourself")
	ErrEmptyContent        = Validation("message content cannot be empty")
	ErrDuplicateChatroom   = Conflict("chatroom already exists")
	ErrGroupNameTaken      = Conflict("group name is already taken")
	ErrEmailTaken          = Conflict("email is already registered")
	ErrUsernameTaken       = Conflict("username is already taken")
	ErrInvalidCredentials  = Unauthenticated("invalid credentials")
	ErrUnverifiedAccount   = Forbidden("account is not verified")
	ErrInvalidVerification = Validation("invalid or expired verification code")
)

// ClassOf returns the error class of err, ErrInternal for anything unclassified.
func ClassOf(err error) error {
	for _, class := range []error{ErrUnauthenticated, ErrNotFound, ErrForbidden, ErrValidation, ErrConflict} {
		if errors.Is(err, class) {
			return class
		}
	}
	return ErrInternal
}

// PublicMessage is the text safe to show a client for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	if class := ClassOf(err); class != ErrInternal {
		return class.Error()
	}
	return "something went wrong, please try again"
}
