package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"photopipe/internal/config"
	"photopipe/internal/logging"
	"photopipe/internal/services"
)

const (
	payloadField        = "job"
	defaultIdleInterval = 250 * time.Millisecond
	readRetryInterval   = time.Second
)

// Dispatcher submits jobs without waiting for them to run.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Handler executes one job. Its error is logged; the message is acknowledged
// either way because failures are reported through the task store.
type Handler func(ctx context.Context, job Job) error

// Options configure a Queue.
type Options struct {
	Stream string
	Group  string
	// Consumer names this reader inside the group. Unacknowledged entries stay
	// assigned to the name, so a restarted worker must reuse it.
	Consumer string
	// Block is how long a read waits for new entries. Zero or negative polls
	// every IdleInterval instead.
	Block        time.Duration
	IdleInterval time.Duration
	MaxLen       int64
	Logger       *slog.Logger
}

func (o *Options) defaults() {
	if o.Stream == "" {
		o.Stream = "photopipe:jobs"
	}
	if o.Group == "" {
		o.Group = "photopipe-workers"
	}
	if o.Consumer == "" {
		o.Consumer, _ = os.Hostname()
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = defaultIdleInterval
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
}

// Queue is a Redis stream with one consumer group.
type Queue struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger
}

// New wraps an existing client.
func New(client *redis.Client, opts Options) *Queue {
	opts.defaults()
	return &Queue{
		client: client,
		opts:   opts,
		logger: opts.Logger.With(
			logging.String(logging.FieldComponent, "jobqueue"),
			logging.String("stream", opts.Stream),
		),
	}
}

// NewFromConfig connects to the Redis server named in cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Queue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Username: cfg.Queue.RedisUsername,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	return New(client, Options{
		Stream:   cfg.Queue.Stream,
		Group:    cfg.Queue.Group,
		Consumer: cfg.Queue.Consumer,
		Block:    cfg.BlockTimeout(),
		MaxLen:   cfg.Queue.MaxLen,
		Logger:   logger,
	})
}

// Ping checks the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return services.Wrap(services.ErrDispatch, "jobqueue", "ping", q.client.Options().Addr, err)
	}
	return nil
}

// Close releases the client.
func (q *Queue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

// Dispatch appends job to the stream.
func (q *Queue) Dispatch(ctx context.Context, job Job) error {
	data, err := job.Encode()
	if err != nil {
		return services.Wrap(services.ErrDispatch, "jobqueue", "encode", string(job.Kind), err)
	}
	args := &redis.XAddArgs{
		Stream: q.opts.Stream,
		Values: map[string]interface{}{payloadField: data},
	}
	if q.opts.MaxLen > 0 {
		args.MaxLen = q.opts.MaxLen
		args.Approx = true
	}
	entryID, err := q.client.XAdd(ctx, args).Result()
	if err != nil {
		return services.Wrap(services.ErrDispatch, "jobqueue", "xadd", string(job.Kind), err)
	}
	q.logger.Debug("job dispatched",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, string(job.Kind)),
		logging.TaskID(job.Task.ID),
		logging.String("entry_id", entryID),
	)
	return nil
}

// Length reports how many entries the stream holds.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, q.opts.Stream).Result()
	if err != nil {
		return 0, services.Wrap(services.ErrDispatch, "jobqueue", "xlen", "", err)
	}
	return n, nil
}

// Pending reports how many delivered entries are not yet acknowledged.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	summary, err := q.client.XPending(ctx, q.opts.Stream, q.opts.Group).Result()
	if err != nil {
		if isMissingGroup(err) {
			return 0, nil
		}
		return 0, services.Wrap(services.ErrDispatch, "jobqueue", "xpending", "", err)
	}
	return summary.Count, nil
}

// EnsureGroup creates the stream and consumer group if needed.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") && !strings.Contains(err.Error(), "exists") {
		return services.Wrap(services.ErrDispatch, "jobqueue", "create group", q.opts.Group, err)
	}
	return nil
}

// Consume delivers jobs to handler until ctx is cancelled, running at most
// concurrency handlers at a time. Entries left unacknowledged under the same
// consumer name, including by an earlier process, are redelivered first.
func (q *Queue) Consume(ctx context.Context, concurrency int, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}

	var group errgroup.Group
	group.SetLimit(concurrency)
	defer func() { _ = group.Wait() }()

	logger := q.logger.With(logging.String("consumer", q.opts.Consumer))
	logger.Info("consuming jobs", logging.Int("concurrency", concurrency))

	readPending := true
	for ctx.Err() == nil {
		messages, err := q.read(ctx, readPending, concurrency)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logging.WarnWithContext(logger, "stream read failed", "queue_read_failed",
				logging.Error(err),
				logging.ErrorHint("check queue.redis_addr and that Redis is running"),
			)
			sleep(ctx, readRetryInterval)
			continue
		}
		if len(messages) == 0 {
			if readPending {
				readPending = false
				continue
			}
			if q.opts.Block <= 0 {
				sleep(ctx, q.opts.IdleInterval)
			}
			continue
		}
		for _, msg := range messages {
			group.Go(func() error {
				q.deliver(ctx, logger, msg, handler)
				return nil
			})
		}
		// The backlog is read in one pass; later reads only see new entries.
		readPending = false
	}
	return nil
}

func (q *Queue) read(ctx context.Context, pending bool, count int) ([]redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    int64(count),
		Block:    -1,
	}
	if pending {
		args.Streams[1] = "0"
		args.Count = 0
	} else if q.opts.Block > 0 {
		args.Block = q.opts.Block
	}
	streams, err := q.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}
	return messages, nil
}

func (q *Queue) deliver(ctx context.Context, logger *slog.Logger, msg redis.XMessage, handler Handler) {
	defer func() {
		// Ack with a fresh context so shutdown does not strand finished work.
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := q.client.XAck(ackCtx, q.opts.Stream, q.opts.Group, msg.ID).Err(); err != nil {
			logger.Warn("ack failed", logging.String("entry_id", msg.ID), logging.Error(err))
		}
	}()

	job, err := decodeMessage(msg)
	if err != nil {
		logging.WarnWithContext(logger, "dropping malformed job", "job_malformed",
			logging.String("entry_id", msg.ID),
			logging.Error(err),
			logging.ErrorHint("inspect the producer writing to the stream"),
		)
		return
	}
	jobLogger := logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, string(job.Kind)),
		logging.TaskID(job.Task.ID),
	)
	if err := handler(ctx, job); err != nil {
		jobLogger.Debug("job handler returned error", logging.Error(err))
		return
	}
	jobLogger.Debug("job handled")
}

func decodeMessage(msg redis.XMessage) (Job, error) {
	raw, ok := msg.Values[payloadField]
	if !ok {
		return Job{}, services.Wrap(services.ErrValidation, "jobqueue", "decode", "entry has no job field", nil)
	}
	switch v := raw.(type) {
	case string:
		return DecodeJob([]byte(v))
	case []byte:
		return DecodeJob(v)
	default:
		return Job{}, services.Wrap(services.ErrValidation, "jobqueue", "decode", fmt.Sprintf("unexpected payload type %T", raw), nil)
	}
}

func isMissingGroup(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NOGROUP") || strings.Contains(msg, "no such key")
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
