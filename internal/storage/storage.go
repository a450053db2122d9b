// Package storage opens the single database connection shared by credentials,
// conversations and usage records.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Backend types.
const (
	TypeMemory     = "memory"
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// Config selects and configures the backend.
type Config struct {
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// Storage is an open database connection. Exactly one accessor returns a
// non-nil handle, matching Type. The memory backend returns none: features
// fall back to their in-process stores.
type Storage interface {
	Type() string
	SQLiteDB() *sql.DB
	PostgreSQLPool() *pgxpool.Pool
	MongoDatabase() *mongo.Database
	// Ping checks the connection is alive.
	Ping(ctx context.Context) error
	Close() error
}

// New opens the backend named by cfg.Type.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case TypeMemory:
		return memoryStorage{}, nil
	case TypeSQLite:
		return NewSQLite(ctx, cfg.SQLite)
	case TypePostgreSQL:
		return NewPostgreSQL(ctx, cfg.PostgreSQL)
	case TypeMongoDB:
		return NewMongoDB(ctx, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (valid: memory, sqlite, postgresql, mongodb)", cfg.Type)
	}
}

// DefaultConfig returns a SQLite configuration under data/.
func DefaultConfig() Config {
	return Config{
		Type:       TypeSQLite,
		SQLite:     SQLiteConfig{Path: "data/englishcorner.db"},
		PostgreSQL: PostgreSQLConfig{MaxConns: 10},
		MongoDB:    MongoDBConfig{Database: "englishcorner"},
	}
}

type memoryStorage struct{}

func (memoryStorage) Type() string                   { return TypeMemory }
func (memoryStorage) SQLiteDB() *sql.DB              { return nil }
func (memoryStorage) PostgreSQLPool() *pgxpool.Pool  { return nil }
func (memoryStorage) MongoDatabase() *mongo.Database { return nil }
func (memoryStorage) Ping(context.Context) error     { return nil }
func (memoryStorage) Close() error                   { return nil }
