//go:build integration

package integration

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const testDatabase = "englishcorner_test"

// databases holds the shared containers and connections.
type databases struct {
	ctx context.Context

	pgURL  string
	pgPool *pgxpool.Pool

	mongoURL string
	mongoDB  *mongo.Database

	mu    sync.Mutex
	stops []func(context.Context)
}

var dbs databases

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	dbs.ctx = ctx

	starts := []func(context.Context) error{dbs.startPostgres, dbs.startMongo}
	errs := make(chan error, len(starts))
	for _, start := range starts {
		go func() { errs <- start(ctx) }()
	}
	var failed bool
	for range starts {
		if err := <-errs; err != nil {
			log.Printf("integration setup: %v", err)
			failed = true
		}
	}

	code := 1
	if !failed {
		code = m.Run()
	}
	dbs.stop()
	cancel()
	os.Exit(code)
}

func (d *databases) startPostgres(ctx context.Context) error {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		return fmt.Errorf("start postgres: %w", err)
	}
	d.onStop(func(ctx context.Context) {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	})

	if d.pgURL, err = container.ConnectionString(ctx, "sslmode=disable"); err != nil {
		return fmt.Errorf("postgres connection string: %w", err)
	}
	pool, err := pgxpool.New(ctx, d.pgURL)
	if err != nil {
		return fmt.Errorf("postgres pool: %w", err)
	}
	d.onStop(func(context.Context) { pool.Close() })
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	d.pgPool = pool
	return nil
}

func (d *databases) startMongo(ctx context.Context) error {
	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		return fmt.Errorf("start mongo: %w", err)
	}
	d.onStop(func(ctx context.Context) {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("terminate mongo: %v", err)
		}
	})

	if d.mongoURL, err = container.ConnectionString(ctx); err != nil {
		return fmt.Errorf("mongo connection string: %w", err)
	}
	client, err := mongo.Connect(options.Client().ApplyURI(d.mongoURL))
	if err != nil {
		return fmt.Errorf("mongo client: %w", err)
	}
	d.onStop(func(ctx context.Context) {
		if err := client.Disconnect(ctx); err != nil {
			log.Printf("disconnect mongo: %v", err)
		}
	})
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	d.mongoDB = client.Database(testDatabase)
	return nil
}

// onStop registers fn to run at teardown. Setup goroutines call it concurrently.
func (d *databases) onStop(fn func(context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops = append(d.stops, fn)
}

// stop runs the registered teardown steps in reverse order.
func (d *databases) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := len(d.stops) - 1; i >= 0; i-- {
		d.stops[i](ctx)
	}
}
