package scopedb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicedesk/internal/config"
	"voicedesk/internal/runtimescope"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Database hands out collection handles with the runtime scope baked
// in. Scoped collections get the filter/stamp decoration; shared
// reference collections pass through to the driver untouched.
type Database struct {
	client *mongo.Client
	raw    *mongo.Database
	scope  runtimescope.Scope
}

// Connect opens the mongo client and verifies the connection.
func Connect(ctx context.Context, cfg *config.Config, scope runtimescope.Scope) (*Database, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Database{
		client: client,
		raw:    client.Database(cfg.Mongo.Database),
		scope:  scope,
	}, nil
}

// Collection returns a scope-aware handle for the named collection.
func (d *Database) Collection(name string) *Collection {
	return &Collection{
		inner:  d.raw.Collection(name),
		scope:  d.scope,
		scoped: runtimescope.IsScopedCollection(name),
	}
}

// Scope returns the runtime scope this database was opened with.
func (d *Database) Scope() runtimescope.Scope {
	return d.scope
}

// Raw exposes the unwrapped database. Never use it for scoped
// collections.
func (d *Database) Raw() *mongo.Database {
	return d.raw
}

// Close disconnects the underlying client.
func (d *Database) Close(ctx context.Context) error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Disconnect(ctx)
}
