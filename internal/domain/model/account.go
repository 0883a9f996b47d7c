package model

// TLSSetting is an optional value guarded by its own enabled flag.
type TLSSetting struct {
	Value   string `yaml:"value,omitempty" json:"value,omitempty"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// Active reports whether the setting is enabled and carries a value.
func (s TLSSetting) Active() bool {
	return s.Enabled && s.Value != ""
}

// TLSSettings holds the mutual TLS material references for an account.
// PKCS12Passphrase is a secret and is never written to the account store.
type TLSSettings struct {
	PKCS12File       TLSSetting `yaml:"pkcs_file" json:"pkcs_file"`
	PKCS12Passphrase TLSSetting `yaml:"-" json:"-"`
	CertFile         TLSSetting `yaml:"cert_file" json:"cert_file"`
	CertKeyFile      TLSSetting `yaml:"cert_key_file" json:"cert_key_file"`
	CACertFile       TLSSetting `yaml:"ca_cert_file" json:"ca_cert_file"`
}

// Empty reports whether no TLS material is configured.
func (s TLSSettings) Empty() bool {
	return !s.PKCS12File.Active() && !s.CertFile.Active() && !s.CertKeyFile.Active() && !s.CACertFile.Active()
}

// AccountConfig is the non-secret, persisted form of an account.
// PKCSKeyEnabled records whether a PKCS#12 passphrase is in use; the
// passphrase itself lives in the credential store.
type AccountConfig struct {
	Kind           Kind              `yaml:"kind" json:"kind"`
	Username       string            `yaml:"username" json:"username"`
	URL            string            `yaml:"url,omitempty" json:"url,omitempty"`
	TLS            TLSSettings       `yaml:"tls" json:"tls"`
	PKCSKeyEnabled bool              `yaml:"pkcs_key_enabled" json:"pkcs_key_enabled"`
	RepoPaths      map[string]string `yaml:"repo_paths,omitempty" json:"repo_paths,omitempty"`
}
