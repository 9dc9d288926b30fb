// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chatvec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/poiesic/chatvec/ai"
	"github.com/poiesic/chatvec/ai/openai"
	"github.com/poiesic/chatvec/ai/siliconflow"
	"github.com/poiesic/chatvec/api"
	"github.com/poiesic/chatvec/chatlog"
	"github.com/poiesic/chatvec/ingestion"
	"github.com/poiesic/chatvec/progress"
	"github.com/poiesic/chatvec/reembed"
	"github.com/poiesic/chatvec/storage"
	"github.com/poiesic/chatvec/storage/badger"
	"github.com/poiesic/chatvec/storage/redis"
	"github.com/poiesic/chatvec/vectorstore"
	"github.com/poiesic/chatvec/vectorstore/sqlite"
)

const (
	StateBadger = "badger"
	StateRedis  = "redis"

	DefaultVectorDSN = "chatvec.db"
)

var ErrUnknownStateBackend = errors.New("unknown state backend")

// Service wires the chat-log source, sync state, embedder and vector
// store into a ready-to-use Syncer.
type Service struct {
	backend   *badger.Backend
	redis     *goredis.Client
	repo      storage.SyncStateRepository
	provider  ai.AIProvider
	store     *sqlite.Store
	pipeline  *ingestion.Pipeline
	syncer    *ingestion.Syncer
	tasks     *progress.Store
	publisher *progress.Publisher
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*options)

type options struct {
	aiConfig       *ai.Config
	provider       ai.AIProvider
	stateBackend   string
	badgerPath     string
	redisConfig    redis.Config
	processedTTL   time.Duration
	vectorDSN      string
	chatlogTimeout time.Duration
	natsURL        string
	natsToken      string
	pipelineOpts   []ingestion.Option
	logger         *slog.Logger
}

// WithAIConfig sets the embedding provider configuration.
func WithAIConfig(cfg *ai.Config) Option {
	return func(o *options) { o.aiConfig = cfg }
}

// WithProvider uses an already constructed provider instead of building
// one from the AI config. The Service takes ownership.
func WithProvider(p ai.AIProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithBadgerPath keeps sync state in a BadgerDB directory. An empty path
// keeps it in memory.
func WithBadgerPath(path string) Option {
	return func(o *options) {
		o.stateBackend = StateBadger
		o.badgerPath = path
	}
}

// WithRedis keeps sync state in redis.
func WithRedis(cfg redis.Config) Option {
	return func(o *options) {
		o.stateBackend = StateRedis
		o.redisConfig = cfg
	}
}

// WithProcessedTTL sets how long processed-seq marks are remembered.
func WithProcessedTTL(ttl time.Duration) Option {
	return func(o *options) { o.processedTTL = ttl }
}

// WithVectorDSN sets the SQLite DSN for the vector store.
func WithVectorDSN(dsn string) Option {
	return func(o *options) { o.vectorDSN = dsn }
}

// WithChatlogTimeout sets the HTTP timeout for chat-log requests.
func WithChatlogTimeout(d time.Duration) Option {
	return func(o *options) { o.chatlogTimeout = d }
}

// WithNATS publishes progress snapshots to a NATS server.
func WithNATS(url, token string) Option {
	return func(o *options) {
		o.natsURL = url
		o.natsToken = token
	}
}

// WithPipelineOptions passes options through to the ingestion pipeline.
func WithPipelineOptions(opts ...ingestion.Option) Option {
	return func(o *options) { o.pipelineOpts = append(o.pipelineOpts, opts...) }
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewService builds every component. chatlogURL is the base URL of the
// chat-log HTTP API.
func NewService(ctx context.Context, chatlogURL string, opts ...Option) (*Service, error) {
	o := &options{
		aiConfig:     ai.DefaultConfig(),
		stateBackend: StateBadger,
		vectorDSN:    DefaultVectorDSN,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Service{logger: o.logger}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	clientOpts := []chatlog.Option{chatlog.WithLogger(o.logger)}
	if o.chatlogTimeout > 0 {
		clientOpts = append(clientOpts, chatlog.WithTimeout(o.chatlogTimeout))
	}
	source, err := chatlog.NewClient(chatlogURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("chat-log client: %w", err)
	}

	if err := s.openState(ctx, o); err != nil {
		return nil, err
	}

	s.provider = o.provider
	if s.provider == nil {
		if s.provider, err = newProvider(o.aiConfig); err != nil {
			return nil, fmt.Errorf("embedding provider: %w", err)
		}
	}

	if s.store, err = sqlite.Open(o.vectorDSN); err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	checkpoints, err := ingestion.NewCheckpointService(s.repo, source, o.logger)
	if err != nil {
		return nil, err
	}
	pipelineOpts := append([]ingestion.Option{ingestion.WithLogger(o.logger)}, o.pipelineOpts...)
	if s.pipeline, err = ingestion.NewPipeline(source, s.provider.Embedder(), s.store, checkpoints, pipelineOpts...); err != nil {
		return nil, err
	}
	s.syncer = ingestion.NewSyncer(s.pipeline, s.repo, o.logger)

	var storeOpts []progress.StoreOption
	if o.natsURL != "" {
		if s.publisher, err = progress.Connect(o.natsURL, o.natsToken, o.logger); err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		storeOpts = append(storeOpts, progress.WithListener(s.publisher.Publish))
	}
	s.tasks = progress.NewStore(storeOpts...)

	ok = true
	return s, nil
}

func (s *Service) openState(ctx context.Context, o *options) error {
	switch strings.ToLower(o.stateBackend) {
	case StateBadger:
		backend, err := badger.OpenBackend(o.badgerPath, o.badgerPath == "")
		if err != nil {
			return fmt.Errorf("open badger: %w", err)
		}
		s.backend = backend
		var repoOpts []badger.RepositoryOption
		if o.processedTTL > 0 {
			repoOpts = append(repoOpts, badger.WithProcessedTTL(o.processedTTL))
		}
		s.repo, err = badger.NewSyncStateRepository(backend, repoOpts...)
		return err
	case StateRedis:
		client, err := redis.Dial(ctx, o.redisConfig)
		if err != nil {
			return fmt.Errorf("dial redis: %w", err)
		}
		s.redis = client
		repoOpts := []redis.RepositoryOption{redis.WithLogger(o.logger)}
		if o.processedTTL > 0 {
			repoOpts = append(repoOpts, redis.WithProcessedTTL(o.processedTTL))
		}
		s.repo, err = redis.NewSyncStateRepository(client, repoOpts...)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStateBackend, o.stateBackend)
	}
}

func newProvider(cfg *ai.Config) (ai.AIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ai.ProviderSiliconFlow:
		return siliconflow.NewProvider(cfg)
	default:
		return openai.NewProvider(cfg)
	}
}

// Close releases every component in reverse construction order.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.pipeline != nil {
		s.pipeline.Release()
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "component", "chatvec", "err", err)
		}
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.backend != nil {
		errs = append(errs, s.backend.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) Syncer() *ingestion.Syncer {
	return s.syncer
}

func (s *Service) Tasks() *progress.Store {
	return s.tasks
}

func (s *Service) Repository() storage.SyncStateRepository {
	return s.repo
}

func (s *Service) VectorStore() vectorstore.Store {
	return s.store
}

// NewScheduler returns an auto-sync scheduler over the service's state.
func (s *Service) NewScheduler(interval time.Duration) (*ingestion.Scheduler, error) {
	return ingestion.NewScheduler(s.syncer, s.repo, interval, s.logger)
}

// NewAPIServer returns an HTTP server over the service's syncer and tasks.
func (s *Service) NewAPIServer(opts ...api.Option) (*api.Server, error) {
	opts = append([]api.Option{api.WithLogger(s.logger)}, opts...)
	return api.NewServer(s.syncer, s.tasks, s.repo, opts...)
}

// NewReembedder returns a reembedder that rewrites stored documents with
// the service's current embedder. A nil cfg uses reembed.DefaultConfig.
func (s *Service) NewReembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(s.store, s.provider.Embedder(), cfg, progress)
}
