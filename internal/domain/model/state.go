package model

import "time"

// ProgressState is the lifecycle of a connection attempt.
type ProgressState int

const (
	ProgressInactive ProgressState = iota
	ProgressStarted
	ProgressFinished
)

func (s ProgressState) String() string {
	switch s {
	case ProgressStarted:
		return "started"
	case ProgressFinished:
		return "finished"
	default:
		return "inactive"
	}
}

// Progress is a snapshot of an account's busy state.
type Progress struct {
	State      ProgressState
	StartedAt  time.Time
	FinishedAt time.Time
}

// Value returns -1 when idle and 0 while an attempt is in flight.
// Providers do not report incremental progress.
func (p Progress) Value() int {
	if p.State == ProgressStarted {
		return 0
	}
	return -1
}

// IsValid reports whether an attempt is in flight.
func (p Progress) IsValid() bool {
	return p.Value() >= 0
}

// Elapsed returns the duration of the last finished attempt.
func (p Progress) Elapsed() time.Duration {
	if p.State != ProgressFinished {
		return 0
	}
	return p.FinishedAt.Sub(p.StartedAt)
}

// ErrorKind classifies the failure of a connection attempt.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorAuthentication
	ErrorTLSDecode
	ErrorTransport
	ErrorParse
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorAuthentication:
		return "authentication"
	case ErrorTLSDecode:
		return "tls_decode"
	case ErrorTransport:
		return "transport"
	case ErrorParse:
		return "parse"
	default:
		return "none"
	}
}

// AccountError describes the failure of the most recent attempt.
type AccountError struct {
	Kind         ErrorKind
	Text         string
	DetailedText string
}

// IsValid reports whether an error occurred.
func (e AccountError) IsValid() bool {
	return e.Text != ""
}

func (e AccountError) Error() string {
	if e.DetailedText == "" {
		return e.Text
	}
	return e.Text + ": " + e.DetailedText
}
