package server

// Config carries the engine's policy knobs. The zero value is usable;
// applyDefaults fills the realm.
type Config struct {
	// MaxStateLength bounds the state parameter on the authorization
	// endpoint. Zero means unlimited.
	MaxStateLength int

	// InputURIOptional permits an authorization request to omit
	// redirect_uri when the client has exactly one registered URI. When
	// false the parameter is mandatory.
	InputURIOptional bool

	// Realm is the WWW-Authenticate realm sent on client-authentication
	// failures. Defaults to "OAuth".
	Realm string

	// ErrorURIs maps error codes to documentation URIs. When set, errors
	// leaving the dispatcher without an error_uri are decorated with the
	// entry for their code.
	ErrorURIs map[string]string
}

func (c *Config) applyDefaults() {
	if c.Realm == "" {
		c.Realm = "OAuth"
	}
}
