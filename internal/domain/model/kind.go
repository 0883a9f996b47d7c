package model

import (
	"fmt"
	"strings"
)

// Kind identifies a Git hosting provider.
type Kind int

const (
	KindGitHub Kind = iota
	KindBitbucket
	KindBeanstalk
	KindGitLab
)

// Kinds lists every supported provider in display order.
var Kinds = []Kind{KindGitHub, KindBitbucket, KindBeanstalk, KindGitLab}

// String returns the lowercase identifier used in config files and URLs.
func (k Kind) String() string {
	switch k {
	case KindGitHub:
		return "github"
	case KindBitbucket:
		return "bitbucket"
	case KindBeanstalk:
		return "beanstalk"
	case KindGitLab:
		return "gitlab"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DisplayName returns the human-readable provider name.
func (k Kind) DisplayName() string {
	switch k {
	case KindGitHub:
		return "GitHub"
	case KindBitbucket:
		return "Bitbucket"
	case KindBeanstalk:
		return "Beanstalk"
	case KindGitLab:
		return "GitLab"
	default:
		return k.String()
	}
}

// HelpText describes which secret the provider expects as a credential.
func (k Kind) HelpText() string {
	switch k {
	case KindGitHub:
		return "Use a personal access token with the repo scope, or authorize in the browser."
	case KindBitbucket:
		return "Use an app password with repository read permission."
	case KindBeanstalk:
		return "Use your account password or an access token."
	case KindGitLab:
		return "Use a personal access token with the read_api scope."
	default:
		return ""
	}
}

// Valid reports whether k is one of the supported providers.
func (k Kind) Valid() bool {
	return k >= KindGitHub && k <= KindGitLab
}

// ParseKind converts a provider identifier (case-insensitive) into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown account kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown account kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
