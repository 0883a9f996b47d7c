package model

// Protocol identifies a clone URL flavor.
type Protocol string

const (
	ProtocolHTTPS Protocol = "https"
	ProtocolSSH   Protocol = "ssh"
)

// Repository is a remote repository discovered on a hosting provider.
// Entries are created during a connection attempt and are not modified
// afterwards; local checkout paths live on the owning account.
type Repository struct {
	Name     string
	FullName string
	URLs     map[Protocol]string
}

// NewRepository returns a repository with an initialized URL table.
func NewRepository(name, fullName string) *Repository {
	return &Repository{
		Name:     name,
		FullName: fullName,
		URLs:     make(map[Protocol]string, 2),
	}
}

// URL returns the clone URL for the given protocol, or "" when unknown.
func (r *Repository) URL(p Protocol) string {
	return r.URLs[p]
}

// SetURL records the clone URL for the given protocol.
func (r *Repository) SetURL(p Protocol, url string) {
	if r.URLs == nil {
		r.URLs = make(map[Protocol]string, 2)
	}
	r.URLs[p] = url
}

// Owner returns the namespace portion of FullName ("group/sub" for "group/sub/repo").
func (r *Repository) Owner() string {
	for i := len(r.FullName) - 1; i >= 0; i-- {
		if r.FullName[i] == '/' {
			return r.FullName[:i]
		}
	}
	return ""
}
