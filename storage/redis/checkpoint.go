package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/storage"
)

// Key layout
const (
	checkpointKeyPrefix = "sync:checkpoint:"
	processedKeyPrefix  = "sync:processed:"
	autoSyncKey         = "sync:autosync"

	fieldTalker       = "talker"
	fieldTalkerName   = "talkerName"
	fieldLastSeq      = "lastSeq"
	fieldLastSyncTime = "lastSyncTime"

	scanBatch = 100
)

// DefaultProcessedTTL bounds how long a processed seq is remembered.
const DefaultProcessedTTL = 24 * time.Hour

// SyncStateRepository implements storage.SyncStateRepository on redis.
//
// Checkpoints are hashes under sync:checkpoint:<talker>. Processed seqs are
// members of the sorted set sync:processed:<talker> scored by the
// processed-at time in milliseconds; the whole set expires after the TTL and
// members older than the TTL are trimmed on every write.
type SyncStateRepository struct {
	client       *redis.Client
	processedTTL time.Duration
	ownsClient   bool
	now          func() time.Time
	logger       *slog.Logger
}

var _ storage.SyncStateRepository = (*SyncStateRepository)(nil)

// RepositoryOption configures a SyncStateRepository.
type RepositoryOption func(*SyncStateRepository)

// WithProcessedTTL sets how long processed seqs are remembered.
func WithProcessedTTL(ttl time.Duration) RepositoryOption {
	return func(r *SyncStateRepository) {
		if ttl > 0 {
			r.processedTTL = ttl
		}
	}
}

// WithOwnedClient makes Close also close the redis client.
func WithOwnedClient() RepositoryOption {
	return func(r *SyncStateRepository) {
		r.ownsClient = true
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) RepositoryOption {
	return func(r *SyncStateRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func newSyncStateRepository(client *redis.Client, opts ...RepositoryOption) (*SyncStateRepository, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	r := &SyncStateRepository{
		client:       client,
		processedTTL: DefaultProcessedTTL,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "redis-sync-state")
	return r, nil
}

// NewSyncStateRepository creates a repository on top of a redis client.
func NewSyncStateRepository(client *redis.Client, opts ...RepositoryOption) (storage.SyncStateRepository, error) {
	return newSyncStateRepository(client, opts...)
}

func checkpointKey(talker string) string {
	return checkpointKeyPrefix + talker
}

func processedKey(talker string) string {
	return processedKeyPrefix + talker
}

// SaveCheckpoint writes every checkpoint field in one HSET.
func (r *SyncStateRepository) SaveCheckpoint(ctx context.Context, cp *core.Checkpoint) error {
	if err := core.ValidateCheckpoint(cp); err != nil {
		return err
	}
	syncTime := ""
	if !cp.LastSyncTime.IsZero() {
		syncTime = cp.LastSyncTime.In(time.Local).Format(core.TimeLayout)
	}
	return r.client.HSet(ctx, checkpointKey(cp.Talker),
		fieldTalker, cp.Talker,
		fieldTalkerName, cp.TalkerName,
		fieldLastSeq, strconv.FormatInt(cp.LastSeq, 10),
		fieldLastSyncTime, syncTime,
	).Err()
}

// LoadCheckpoint reads a checkpoint hash. Returns storage.ErrNotFound when absent.
func (r *SyncStateRepository) LoadCheckpoint(ctx context.Context, talker string) (*core.Checkpoint, error) {
	fields, err := r.client.HGetAll(ctx, checkpointKey(talker)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: checkpoint for %s", storage.ErrNotFound, talker)
	}
	return r.decodeCheckpoint(talker, fields)
}

func (r *SyncStateRepository) decodeCheckpoint(talker string, fields map[string]string) (*core.Checkpoint, error) {
	cp := &core.Checkpoint{
		Talker:     talker,
		TalkerName: fields[fieldTalkerName],
	}
	if raw := fields[fieldLastSeq]; raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: lastSeq %q: %w", storage.ErrSerializationFailed, raw, err)
		}
		cp.LastSeq = seq
	}
	if raw := fields[fieldLastSyncTime]; raw != "" {
		t, err := time.ParseInLocation(core.TimeLayout, raw, time.Local)
		if err != nil {
			r.logger.Warn("unparseable lastSyncTime", "talker", talker, "value", raw)
		} else {
			cp.LastSyncTime = t
		}
	}
	return cp, nil
}

// ListCheckpoints scans every checkpoint key.
func (r *SyncStateRepository) ListCheckpoints(ctx context.Context) ([]*core.Checkpoint, error) {
	var talkers []string
	iter := r.client.Scan(ctx, 0, checkpointKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		talkers = append(talkers, strings.TrimPrefix(iter.Val(), checkpointKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	slices.Sort(talkers)
	talkers = slices.Compact(talkers)

	checkpoints := make([]*core.Checkpoint, 0, len(talkers))
	for _, talker := range talkers {
		cp, err := r.LoadCheckpoint(ctx, talker)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

// IsProcessed reports whether seq is in the talker's unexpired processed set.
func (r *SyncStateRepository) IsProcessed(ctx context.Context, talker string, seq int64) (bool, error) {
	score, err := r.client.ZScore(ctx, processedKey(talker), strconv.FormatInt(seq, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.fresh(score), nil
}

// ProcessedSeqs looks up all seqs in one pipeline.
func (r *SyncStateRepository) ProcessedSeqs(ctx context.Context, talker string, seqs []int64) (map[int64]bool, error) {
	found := make(map[int64]bool)
	if len(seqs) == 0 {
		return found, nil
	}
	key := processedKey(talker)
	cmds := make([]*redis.FloatCmd, len(seqs))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, seq := range seqs {
			cmds[i] = pipe.ZScore(ctx, key, strconv.FormatInt(seq, 10))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for i, cmd := range cmds {
		score, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if r.fresh(score) {
			found[seqs[i]] = true
		}
	}
	return found, nil
}

func (r *SyncStateRepository) fresh(score float64) bool {
	cutoff := r.now().Add(-r.processedTTL).UnixMilli()
	return int64(score) >= cutoff
}

// MarkProcessed adds seqs, refreshes the key TTL and trims stale members
// in one MULTI/EXEC.
func (r *SyncStateRepository) MarkProcessed(ctx context.Context, talker string, seqs []int64) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	if len(seqs) == 0 {
		return nil
	}
	now := r.now()
	score := float64(now.UnixMilli())
	members := make([]*redis.Z, len(seqs))
	for i, seq := range seqs {
		members[i] = &redis.Z{Score: score, Member: strconv.FormatInt(seq, 10)}
	}
	key := processedKey(talker)
	cutoff := strconv.FormatInt(now.Add(-r.processedTTL).UnixMilli(), 10)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, r.processedTTL)
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
		return nil
	})
	return err
}

// DeleteTalker removes the checkpoint hash and processed set.
func (r *SyncStateRepository) DeleteTalker(ctx context.Context, talker string) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	return r.client.Del(ctx, checkpointKey(talker), processedKey(talker)).Err()
}

// AutoSyncTalkers returns the members of the auto-sync set.
func (r *SyncStateRepository) AutoSyncTalkers(ctx context.Context) ([]string, error) {
	talkers, err := r.client.SMembers(ctx, autoSyncKey).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(talkers)
	return talkers, nil
}

// SetAutoSync enrolls or removes a talker.
func (r *SyncStateRepository) SetAutoSync(ctx context.Context, talker string, enabled bool) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	if enabled {
		return r.client.SAdd(ctx, autoSyncKey, talker).Err()
	}
	return r.client.SRem(ctx, autoSyncKey, talker).Err()
}

// Close closes the client when the repository owns it.
func (r *SyncStateRepository) Close() error {
	if r.ownsClient {
		return r.client.Close()
	}
	return nil
}
