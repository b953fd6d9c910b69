// Package app assembles a sync session from configuration. Both the CLI and
// the HTTP server build their engine here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/contact-sync/internal/checkpoint"
	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/contactsync"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/mailchimp"
	"github.com/ignite/contact-sync/internal/pkg/distlock"
	"github.com/ignite/contact-sync/internal/pkg/logger"
	"github.com/ignite/contact-sync/internal/repository/postgres"
	"github.com/ignite/contact-sync/internal/sink"
	"github.com/ignite/contact-sync/internal/source"
	"github.com/ignite/contact-sync/internal/storage"
)

// Deps overrides what Build would otherwise create or use from the process.
type Deps struct {
	Provider contactsync.Provider
	Stdin    io.Reader
	Stdout   io.Writer

	// Emitters receive every outcome in addition to the configured sinks.
	Emitters []contactsync.Emitter
}

// Session is a wired sync engine and the resources it owns.
type Session struct {
	RunID       string
	Engine      *contactsync.Orchestrator
	Router      *contactsync.Router
	Checkpoints checkpoint.Store
	Archive     *storage.RunArchive
	DB          *sql.DB
	Redis       *redis.Client

	cfg      *config.Config
	aws      *storage.AWS
	stdin    io.Reader
	log      *logger.Logger
	outcomes *postgres.OutcomeRepo
	skip     int
	closers  []io.Closer
}

// Build creates a session. runID resumes a checkpointed run when the store
// knows it; an empty runID starts a new run.
func Build(ctx context.Context, cfg *config.Config, runID string, deps Deps, log *logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.Default()
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}

	resume := runID != ""
	if runID == "" {
		runID = uuid.NewString()
	}
	s := &Session{RunID: runID, cfg: cfg, stdin: deps.Stdin, log: log.With("run_id", runID)}

	if err := s.build(ctx, resume, deps); err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Session) build(ctx context.Context, resume bool, deps Deps) error {
	cfg := s.cfg

	if cfg.Database.URL != "" {
		db, err := source.OpenDB("postgres", cfg.Database.URL)
		if err != nil {
			return err
		}
		s.DB = db
		s.closers = append(s.closers, db)
	}
	if cfg.Redis.Addr != "" {
		s.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, s.Redis)
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	provider := deps.Provider
	if provider == nil {
		client, err := mailchimp.NewClient(ctx, cfg.Mailchimp.ClientConfig())
		if err != nil {
			return err
		}
		provider = client
	}

	emitters, raws, err := s.sinks(ctx, deps.Stdout)
	if err != nil {
		return err
	}
	emitters = append(emitters, deps.Emitters...)

	store, err := s.checkpointStore(ctx)
	if err != nil {
		return err
	}
	s.Checkpoints = store

	s.Engine = contactsync.NewOrchestrator(provider, sink.Multi(emitters), contactsync.Options{
		RunID:            s.RunID,
		Stream:           cfg.Source.Stream,
		ListName:         cfg.Sync.ListName,
		SubscribeStatus:  domain.MemberStatus(cfg.Sync.SubscribeStatus),
		SubBatchSize:     cfg.Sync.SubBatchSize,
		TransientRetries: cfg.Sync.Retries(),
		RetryBackoff:     cfg.Sync.RetryBackoff(),
	}, s.log)
	if store != nil {
		s.Engine.SetStateSaver(store)
		if resume {
			state, err := store.Load(ctx, s.RunID)
			if err != nil {
				return fmt.Errorf("load checkpoint: %w", err)
			}
			if state != nil {
				s.Engine.Resume(*state)
				s.skip = state.Consumed
				s.log.Info("resuming run", "processed", state.Processed, "consumed", state.Consumed, "list_id", state.ListID)
			}
		}
	}

	var raw contactsync.RawWriter
	if len(raws) > 0 {
		raw = sink.MultiRaw(raws)
	}
	s.Router = contactsync.NewRouter(s.Engine, raw, contactsync.RouterOptions{
		ContactStreams:  cfg.Sync.ContactStreams,
		UseFallbackSink: cfg.Sync.UseFallbackSink,
	}, s.log)
	return nil
}

// awsClients creates the AWS clients on first use.
func (s *Session) awsClients(ctx context.Context) (*storage.AWS, error) {
	if s.aws != nil {
		return s.aws, nil
	}
	a, err := storage.NewAWS(ctx, s.cfg.AWS)
	if err != nil {
		return nil, err
	}
	s.aws = a
	return a, nil
}

func (s *Session) sinks(ctx context.Context, stdout io.Writer) ([]contactsync.Emitter, []contactsync.RawWriter, error) {
	cfg := s.cfg.Sinks
	var emitters []contactsync.Emitter
	var raws []contactsync.RawWriter

	switch cfg.OutcomesPath {
	case "":
	case "-":
		emitters = append(emitters, sink.NewJSONLEmitter(stdout))
	default:
		f, err := os.Create(cfg.OutcomesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open outcomes file: %w", err)
		}
		s.closers = append(s.closers, f)
		emitters = append(emitters, sink.NewJSONLEmitter(f))
	}

	if cfg.RawPath != "" {
		f, err := os.Create(cfg.RawPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open raw file: %w", err)
		}
		s.closers = append(s.closers, f)
		raws = append(raws, sink.NewJSONLRawWriter(f))
	}

	if cfg.Postgres {
		if s.DB == nil {
			return nil, nil, fmt.Errorf("%w: postgres sink needs database.url", config.ErrInvalidSetting)
		}
		s.outcomes = postgres.NewOutcomeRepo(s.DB, s.RunID, s.cfg.Source.Stream)
		emitters = append(emitters, s.outcomes)
	}

	if cfg.ArchiveBucket != "" {
		a, err := s.awsClients(ctx)
		if err != nil {
			return nil, nil, err
		}
		s.Archive = storage.NewRunArchive(a.S3, cfg.ArchiveBucket, cfg.ArchivePrefix, s.RunID)
		emitters = append(emitters, s.Archive)
		raws = append(raws, s.Archive)
	}
	return emitters, raws, nil
}

func (s *Session) checkpointStore(ctx context.Context) (checkpoint.Store, error) {
	cfg := s.cfg.Checkpoint
	switch cfg.Kind {
	case config.CheckpointFile:
		return checkpoint.NewFileStore(cfg.Dir), nil
	case config.CheckpointDynamoDB:
		a, err := s.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewDynamoStore(a.DynamoDB, cfg.Table, cfg.Retention()), nil
	default:
		return nil, nil
	}
}

// OpenSource opens the configured record source.
func (s *Session) OpenSource(ctx context.Context) (source.Source, error) {
	cfg := s.cfg.Source
	maxBatch := s.cfg.Sync.MaxBatchRecords

	switch strings.ToLower(cfg.Kind) {
	case config.SourceJSONL:
		if cfg.Path == "-" {
			return source.NewJSONLSource(s.stdin, cfg.Stream, maxBatch), nil
		}
		f, err := os.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		return source.NewJSONLSource(f, cfg.Stream, maxBatch), nil
	case config.SourceS3:
		a, err := s.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		return source.OpenS3(ctx, a.S3, cfg.S3Bucket, cfg.S3Key, cfg.Stream, maxBatch)
	case config.SourceSnowflake:
		dsn, err := cfg.Snowflake.DSN()
		if err != nil {
			return nil, fmt.Errorf("snowflake dsn: %w", err)
		}
		db, err := source.OpenDB("snowflake", dsn)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db)
		return source.NewSQLSource(db, cfg.Query, cfg.Stream, maxBatch), nil
	case config.SourcePostgres:
		if s.DB == nil {
			return nil, fmt.Errorf("%w: postgres source needs database.url", config.ErrInvalidSource)
		}
		return source.NewSQLSource(s.DB, cfg.Query, cfg.Stream, maxBatch), nil
	default:
		return nil, fmt.Errorf("%w: %q", source.ErrUnsupportedKind, cfg.Kind)
	}
}

// Lock takes the run lock for the configured list. Redis is used when
// configured, otherwise the PostgreSQL database.
func (s *Session) Lock(ctx context.Context) (release func(), lost <-chan error, err error) {
	lock, err := distlock.NewLock(s.Redis, s.DB, distlock.RunKey(s.cfg.Sync.ListName), s.cfg.Sync.LockTTL())
	if err != nil {
		return nil, nil, err
	}
	return distlock.Hold(ctx, lock, s.cfg.Sync.LockTTL(), s.log)
}

// Close uploads the archive and releases owned resources.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if s.Archive != nil {
		if err := s.Archive.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// StoredSummary aggregates the outcomes the PostgreSQL sink holds for this
// run. It returns nil when that sink is off.
func (s *Session) StoredSummary(ctx context.Context) (*postgres.RunSummary, error) {
	if s.outcomes == nil {
		return nil, nil
	}
	return s.outcomes.Summary(ctx, s.RunID)
}

// Run drains src through the router until it is exhausted or a batch fails.
// It returns the number of upstream batches delivered. A resumed session
// first skips the source records the checkpoint already covers.
func (s *Session) Run(ctx context.Context, src source.Source) (int, error) {
	if s.skip > 0 {
		s.log.Info("skipping records handled before resume", "records", s.skip)
	}
	batches := 0
	for {
		b, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return batches, nil
		}
		if err != nil {
			return batches, fmt.Errorf("read source: %w", err)
		}
		if s.skip > 0 && s.Router.Tracked(b.Stream) {
			n := min(s.skip, len(b.Records))
			b.Records = b.Records[n:]
			s.skip -= n
			if len(b.Records) == 0 {
				continue
			}
		}
		if err := s.Router.Route(ctx, b.Stream, b.Records); err != nil {
			return batches, err
		}
		batches++
		s.log.Debug("batch delivered", "stream", b.Stream, "records", len(b.Records))
	}
}
