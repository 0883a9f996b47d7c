package model

import "time"

// Credential is a stored secret. Service is the URL of the hosting provider
// ("https://github.com") and Username the account it belongs to.
type Credential struct {
	ID        int64
	Service   string
	Username  string
	Value     string
	UpdatedAt time.Time
}
