package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of enforcement failures. Callers match on the
// kind instead of substring-checking reason strings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindBlockedCommand
	KindNotWhitelisted
	KindDangerousPattern
	KindBlockedPath
	KindShellMetacharacter
	KindEmptyCommand
	KindOutputTooLarge
	KindDangerousOutput
	KindTimeout
	KindRateLimited
	KindResourceExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case KindBlockedCommand:
		return "blocked command"
	case KindNotWhitelisted:
		return "command not in allowlist"
	case KindDangerousPattern:
		return "dangerous pattern"
	case KindBlockedPath:
		return "blocked path"
	case KindShellMetacharacter:
		return "shell metacharacter"
	case KindEmptyCommand:
		return "empty command"
	case KindOutputTooLarge:
		return "output too large"
	case KindDangerousOutput:
		return "dangerous output"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate limited"
	case KindResourceExceeded:
		return "resource limit exceeded"
	default:
		return "unknown"
	}
}

// GuardError carries an ErrorKind plus the specific reason. Denials are never
// bare: Detail always names what was matched or exceeded.
type GuardError struct {
	Kind   ErrorKind
	Detail string
}

func (e *GuardError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Detail
}

// Is reports kind equality so errors.Is(err, &GuardError{Kind: k}) works.
func (e *GuardError) Is(target error) bool {
	t, ok := target.(*GuardError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Errf builds a GuardError with a formatted detail.
func Errf(kind ErrorKind, format string, args ...any) *GuardError {
	return &GuardError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from an error chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ge *GuardError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}
