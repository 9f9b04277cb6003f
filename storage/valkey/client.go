// Package valkey provides a Valkey-backed implementation of the storage
// interfaces for multi-instance deployments. Codes and tokens are stored
// as JSON records with server-side TTLs; the single-use and rotation
// guarantees are enforced with Lua scripts so they hold across instances.
package valkey

import (
	"context"
	"fmt"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
)

// Config holds connection settings for a Valkey store.
type Config struct {
	// Address is the host:port of the Valkey server.
	Address string

	// Username and Password authenticate the connection, when set.
	Username string
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces all keys written by the store.
	// Defaults to "oauth:".
	KeyPrefix string

	// ConnectTimeout bounds the initial connectivity check.
	// Defaults to 5 seconds.
	ConnectTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.KeyPrefix == "" {
		out.KeyPrefix = "oauth:"
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = 5 * time.Second
	}
	return out
}

func newClient(cfg Config) (valkeygo.Client, error) {
	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		Username:    cfg.Username,
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", cfg.Address, err)
	}
	return client, nil
}
