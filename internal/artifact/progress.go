package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ckd-backend/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProgressStore is the side channel a running retrain reports through.
// Read returns zeros when nothing was written.
type ProgressStore interface {
	Reset(ctx context.Context) error
	Write(ctx context.Context, p models.Progress) error
	Read(ctx context.Context) (models.Progress, error)
}

const progressFile = "progress.json"

// FileProgress keeps progress in a JSON file replaced by rename.
type FileProgress struct {
	path string
}

func NewFileProgress(dir string) *FileProgress {
	return &FileProgress{path: filepath.Join(dir, progressFile)}
}

func (f *FileProgress) Reset(ctx context.Context) error {
	return f.Write(ctx, models.Progress{})
}

func (f *FileProgress) Write(_ context.Context, p models.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return writeAtomic(f.path, data)
}

func (f *FileProgress) Read(_ context.Context) (models.Progress, error) {
	var p models.Progress
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read progress: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return models.Progress{}, fmt.Errorf("decode progress: %w", err)
	}
	return p, nil
}

// RedisProgress keeps progress under a single key so several API replicas
// can poll the same retrain.
type RedisProgress struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisProgress(client *redis.Client, key string, ttl time.Duration) *RedisProgress {
	if key == "" {
		key = "ckd:retrain:progress"
	}
	return &RedisProgress{client: client, key: key, ttl: ttl}
}

func (r *RedisProgress) Reset(ctx context.Context) error {
	return r.Write(ctx, models.Progress{})
}

func (r *RedisProgress) Write(ctx context.Context, p models.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set progress: %w", err)
	}
	return nil
}

func (r *RedisProgress) Read(ctx context.Context) (models.Progress, error) {
	var p models.Progress
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("redis get progress: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return models.Progress{}, fmt.Errorf("decode progress: %w", err)
	}
	return p, nil
}

// Reporter turns fit steps into progress snapshots with a linear ETA.
type Reporter struct {
	ctx    context.Context
	store  ProgressStore
	logger *zap.Logger
	now    func() time.Time
	start  time.Time

	mu   sync.Mutex
	last models.Progress
}

func NewReporter(ctx context.Context, store ProgressStore, logger *zap.Logger) *Reporter {
	r := &Reporter{ctx: ctx, store: store, logger: logger, now: time.Now}
	r.start = r.now()
	return r
}

// Step records that step of total units of work are done. Store errors are
// logged and otherwise ignored.
func (r *Reporter) Step(step, total int) {
	if total <= 0 {
		return
	}
	elapsed := r.now().Sub(r.start).Seconds()
	left := 0
	if step > 0 && step < total {
		left = int(math.Round(elapsed / float64(step) * float64(total-step)))
	}
	p := models.Progress{
		Epoch:       step,
		Percent:     math.Round(float64(step)/float64(total)*10000) / 100,
		SecondsLeft: left,
	}

	r.mu.Lock()
	r.last = p
	r.mu.Unlock()

	if err := r.store.Write(r.ctx, p); err != nil {
		r.logger.Warn("Failed to write retrain progress", zap.Int("epoch", step), zap.Error(err))
	}
}

// Finish writes the terminal {total, 100, 0} snapshot.
func (r *Reporter) Finish(total int) {
	p := models.Progress{Epoch: total, Percent: 100, SecondsLeft: 0}
	r.mu.Lock()
	r.last = p
	r.mu.Unlock()
	if err := r.store.Write(r.ctx, p); err != nil {
		r.logger.Warn("Failed to write final retrain progress", zap.Error(err))
	}
}

// Last is the most recent snapshot written through this reporter.
func (r *Reporter) Last() models.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
