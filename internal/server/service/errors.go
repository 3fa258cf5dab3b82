package service

import (
	"errors"
	"fmt"
	"strings"

	"fileshare/internal/server/database"
)

// Error kinds returned by the service layer. Every error a service returns
// matches exactly one of these with errors.Is.
var (
	ErrAuthentication     = errors.New("authentication required")
	ErrValidation         = errors.New("validation failed")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrQuotaExceeded      = errors.New("upload quota exceeded")
	ErrNotPublic          = errors.New("file is not public")
	ErrNotFound           = errors.New("file not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrStorage            = errors.New("storage failure")
)

// Specific causes, each wrapping one of the kinds above.
var (
	ErrGuestNotAllowed  = fmt.Errorf("%w: guest sessions cannot modify files", ErrAuthentication)
	ErrUnknownEmail     = fmt.Errorf("%w: email not registered", ErrAuthentication)
	ErrWrongPassword    = fmt.Errorf("%w: incorrect password", ErrAuthentication)
	ErrAlreadyLoggedOut = fmt.Errorf("%w: no active session", ErrAuthentication)

	ErrUnsupportedType  = fmt.Errorf("%w: unsupported file type", ErrValidation)
	ErrEmptyFilename    = fmt.Errorf("%w: empty filename", ErrValidation)
	ErrInvalidFilename  = fmt.Errorf("%w: invalid filename", ErrValidation)
	ErrInvalidEmail     = fmt.Errorf("%w: invalid email", ErrValidation)
	ErrPasswordMismatch = fmt.Errorf("%w: passwords do not match", ErrValidation)
	ErrPasswordTooShort = fmt.Errorf("%w: password too short", ErrValidation)
	ErrPasswordTooLong  = fmt.Errorf("%w: password too long", ErrValidation)
	ErrEmailTaken       = fmt.Errorf("%w: email already registered", ErrValidation)
)

// FileTooLargeError is returned when an upload measures over Limit bytes.
type FileTooLargeError struct {
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("%v: limit is %d bytes", ErrFileTooLarge, e.Limit)
}

func (e *FileTooLargeError) Unwrap() error { return ErrFileTooLarge }

// UnsupportedTypeError is returned when an upload's extension is not in
// the allowed set.
type UnsupportedTypeError struct {
	Allowed []string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("%v (allowed: %s)", ErrUnsupportedType, strings.Join(e.Allowed, ", "))
}

func (e *UnsupportedTypeError) Unwrap() error { return ErrUnsupportedType }

// LoginRequiredError is returned when an unauthenticated caller asks for a
// download. ResumeToken carries the download target through the login flow.
type LoginRequiredError struct {
	ResumeToken string
}

func (e *LoginRequiredError) Error() string { return "login required to download" }

func (e *LoginRequiredError) Unwrap() error { return ErrAuthentication }

// Flash is the transient status message produced by one request.
type Flash struct {
	Info  string `json:"info,omitempty"`
	Error string `json:"error,omitempty"`
}

// InfoFlash builds a Flash carrying a success message.
func InfoFlash(msg string) Flash {
	return Flash{Info: msg}
}

// ErrorFlash renders err as the message shown to the user.
func ErrorFlash(err error) Flash {
	return Flash{Error: userMessage(err)}
}

func userMessage(err error) string {
	var (
		loginErr    *LoginRequiredError
		tooLargeErr *FileTooLargeError
		typeErr     *UnsupportedTypeError
	)
	switch {
	case errors.As(err, &loginErr):
		return "Please login to download this file"
	case errors.As(err, &tooLargeErr):
		return "File size is greater than " + FormatSize(tooLargeErr.Limit)
	case errors.As(err, &typeErr) && len(typeErr.Allowed) > 0:
		return "Please select files among the allowed extensions: " + strings.Join(typeErr.Allowed, ", ")
	case errors.Is(err, ErrGuestNotAllowed):
		return "You are using guest login. Please Login as user to use this app's cool feature"
	case errors.Is(err, ErrUnknownEmail):
		return "Email not found! Please signup!"
	case errors.Is(err, ErrWrongPassword):
		return "Password Incorrect!"
	case errors.Is(err, ErrAlreadyLoggedOut):
		return "User already logged out"
	case errors.Is(err, ErrAuthentication):
		return "Please login again to access the home page"
	case errors.Is(err, ErrUnsupportedType):
		return "Please select files among the allowed extensions"
	case errors.Is(err, ErrEmptyFilename):
		return "Please choose some file to upload"
	case errors.Is(err, ErrInvalidFilename):
		return "Please rename the file and upload it again"
	case errors.Is(err, ErrInvalidEmail):
		return "Please Enter Valid Email"
	case errors.Is(err, ErrPasswordMismatch):
		return "Please enter same password in both field"
	case errors.Is(err, ErrPasswordTooShort):
		return "Please keep password length greater than 2"
	case errors.Is(err, ErrPasswordTooLong):
		return "Please keep password length under 72 bytes"
	case errors.Is(err, ErrEmailTaken):
		return "Email already registered!"
	case errors.Is(err, ErrValidation):
		return "Invalid input"
	case errors.Is(err, ErrFileTooLarge):
		return "File size is greater than the maximum allowed"
	case errors.Is(err, ErrQuotaExceeded):
		return "You have reached maximum storage space available per user"
	case errors.Is(err, ErrNotPublic):
		return "This file has not been shared"
	case errors.Is(err, ErrNotFound):
		return "File not found"
	case errors.Is(err, ErrStorageUnavailable):
		return "Service temporarily unavailable, please try again"
	case errors.Is(err, ErrStorage):
		return "Could not store the file, please try again"
	default:
		return "Something went wrong"
	}
}

// unavailable maps any failure of a store lookup to ErrStorageUnavailable.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// commitFailure tells an unreachable store apart from a store that rejected
// the write.
func commitFailure(err error) error {
	if database.IsUnavailable(err) {
		return unavailable(err)
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
