// cmd/auditor/main.go is an asynchronous worker that pops audit records from
// the Redis queue and persists them to the audit_log table in batches.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/audit"
	"github.com/boardroomhq/boardroom/internal/cache"
	"github.com/boardroomhq/boardroom/internal/config"
	"github.com/boardroomhq/boardroom/internal/store"
)

// AuditorService drains the audit queue and flushes batches to Postgres,
// either when the batch fills or when the flush interval elapses. Losing
// records is acceptable; a failed flush drops its batch rather than retrying.
type AuditorService struct {
	redisClient *redis.Client
	pg          *store.PG
	queue       string
	batchSize   int
	flushDelay  time.Duration

	batchMu sync.Mutex
	batch   []audit.Record
}

// NewAuditorService constructs an AuditorService from the shared config.
func NewAuditorService(cfg *config.Config, rdb *redis.Client, pg *store.PG) *AuditorService {
	return &AuditorService{
		redisClient: rdb,
		pg:          pg,
		queue:       cfg.AuditQueueName,
		batchSize:   cfg.AuditBatchSize,
		flushDelay:  cfg.AuditFlushInterval,
		batch:       make([]audit.Record, 0, cfg.AuditBatchSize),
	}
}

func main() {
	logger := logrus.StandardLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := store.Connect(ctx, cfg.PostgresURL())
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	rdb, err := cache.Connect(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	as := NewAuditorService(cfg, rdb, pg)

	logger.Infof("auditor consuming %q (batch %d, flush every %s)", as.queue, as.batchSize, as.flushDelay)
	as.run(ctx)

	// The run context is spent; drain the tail with a fresh one.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	as.flush(flushCtx)
	logger.Info("auditor shutdown complete")
}

// run reads from the Redis queue until the context is canceled, flushing on
// the ticker between pops.
func (as *AuditorService) run(ctx context.Context) {
	ticker := time.NewTicker(as.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			as.flush(ctx)

		default:
			// Use BLPop with a 3-second timeout so that context cancellation is handled.
			res, err := as.redisClient.BLPop(ctx, 3*time.Second, as.queue).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				logrus.Errorf("BLPop: %v", err)
				time.Sleep(time.Second)
				continue
			}
			// res[0] is the queue name and res[1] the payload.
			if len(res) < 2 {
				continue
			}
			var rec audit.Record
			if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
				logrus.Warnf("dropping malformed audit record: %v", err)
				continue
			}
			if full := as.append(rec); full {
				as.flush(ctx)
			}
		}
	}
}

// append adds a record to the in-memory batch and reports whether the batch
// reached the flush threshold.
func (as *AuditorService) append(rec audit.Record) bool {
	as.batchMu.Lock()
	defer as.batchMu.Unlock()
	as.batch = append(as.batch, rec)
	return len(as.batch) >= as.batchSize
}

// flush persists the pending batch in a single transaction.
func (as *AuditorService) flush(ctx context.Context) {
	as.batchMu.Lock()
	if len(as.batch) == 0 {
		as.batchMu.Unlock()
		return
	}
	pending := make([]audit.Record, len(as.batch))
	copy(pending, as.batch)
	as.batch = as.batch[:0]
	as.batchMu.Unlock()

	err := pgx.BeginTxFunc(ctx, as.pg.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range pending {
			if err := insertRecordTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertRecordTx: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		logrus.Errorf("dropped %d audit records: %v", len(pending), err)
		return
	}
	logrus.Debugf("flushed %d audit records", len(pending))
}

// insertRecordTx inserts a single audit record within the batch transaction.
func insertRecordTx(ctx context.Context, tx pgx.Tx, rec audit.Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO audit_log (session_id, actor, action, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = tx.Exec(ctx, q, rec.SessionID, rec.Actor, rec.Action, payload, time.UnixMilli(rec.Timestamp))
	return err
}
