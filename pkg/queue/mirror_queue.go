package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"ransomhub/internal/util"
)

// MirrorJob is one text message waiting to be copied to the ledger.
type MirrorJob struct {
	ID        string
	Sender    string
	Recipient string
	Text      string
	Timestamp int64
	Attempts  int
}

// MirrorHandler delivers a job. A non-nil error schedules a retry until
// the attempts reach the configured maximum.
type MirrorHandler func(context.Context, MirrorJob) error

// RedisMirrorQueue is an at-least-once queue on a Redis Stream consumer group.
// Attempts travel with the stream entry, so a retry is a fresh XADD.
type RedisMirrorQueue struct {
	client       *redis.Client
	logger       *slog.Logger
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type MirrorQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
	Logger     *slog.Logger
}

func NewRedisMirrorQueue(cfg MirrorQueueConfig) (*RedisMirrorQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "ransomhub:ledger-mirror"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "ledger-mirror"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := &RedisMirrorQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		logger:       logger,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   positiveInt(cfg.MaxRetries, 3),
		block:        positiveDuration(cfg.Block, 5*time.Second),
		claimIdle:    positiveDuration(cfg.ClaimIdle, 30*time.Second),
		retryDelay:   positiveDuration(cfg.RetryDelay, 2*time.Second),
		maxLen:       positiveInt64(cfg.MaxLen, 10000),
		readCount:    positiveInt64(cfg.ReadCount, 10),
		claimCount:   positiveInt64(cfg.ClaimCount, 10),
	}
	return q, nil
}

// Close releases the Redis connection pool.
func (q *RedisMirrorQueue) Close() error {
	return q.client.Close()
}

// Enqueue appends job to the stream and returns it with an assigned id.
func (q *RedisMirrorQueue) Enqueue(ctx context.Context, job MirrorJob) (MirrorJob, error) {
	if strings.TrimSpace(job.Sender) == "" || strings.TrimSpace(job.Recipient) == "" {
		return MirrorJob{}, errors.New("mirror job requires sender and recipient")
	}
	if job.ID == "" {
		job.ID = util.NewID()
	}
	if job.Timestamp == 0 {
		job.Timestamp = time.Now().UTC().Unix()
	}
	job.Attempts = 0
	if err := q.add(ctx, q.client, job); err != nil {
		return MirrorJob{}, fmt.Errorf("enqueue mirror job: %w", err)
	}
	return job, nil
}

// Start runs concurrency consumers until ctx is cancelled.
func (q *RedisMirrorQueue) Start(ctx context.Context, concurrency int, handler MirrorHandler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisMirrorQueue) consumeLoop(ctx context.Context, consumer string, handler MirrorHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := q.processOnce(ctx, consumer, handler); err != nil && ctx.Err() == nil {
			q.logger.Warn("mirror_queue_read_failed", "stream", q.stream, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// processOnce reclaims stuck entries, then reads one batch of new ones.
func (q *RedisMirrorQueue) processOnce(ctx context.Context, consumer string, handler MirrorHandler) (int, error) {
	handled := 0
	claimed, err := q.claimPending(ctx, consumer)
	if err != nil {
		return handled, err
	}
	for _, msg := range claimed {
		q.handleMessage(ctx, msg, handler)
		handled++
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    q.readCount,
		Block:    q.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return handled, nil
	}
	if err != nil {
		return handled, err
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			q.handleMessage(ctx, msg, handler)
			handled++
		}
	}
	return handled, nil
}

func (q *RedisMirrorQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.logger.Warn("mirror_queue_group_create_failed", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisMirrorQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return res, err
}

func (q *RedisMirrorQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler MirrorHandler) {
	job, ok := decodeJob(msg.Values)
	if !ok {
		q.logger.Warn("mirror_job_malformed", "stream", q.stream, "message_id", msg.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job.Attempts++
	err := handler(ctx, job)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		q.logger.Error("mirror_job_dropped", "job_id", job.ID, "attempts", job.Attempts, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	q.logger.Warn("mirror_job_retry", "job_id", job.ID, "attempts", job.Attempts, "err", err)
	select {
	case <-ctx.Done():
		return
	case <-time.After(q.retryDelay):
	}
	if err := q.requeueAndAck(ctx, msg.ID, job); err != nil {
		q.logger.Warn("mirror_job_requeue_failed", "job_id", job.ID, "err", err)
	}
}

func (q *RedisMirrorQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-adds job and acks the original in one MULTI, so a failure
// leaves the original pending for XAUTOCLAIM.
func (q *RedisMirrorQueue) requeueAndAck(ctx context.Context, msgID string, job MirrorJob) error {
	pipe := q.client.TxPipeline()
	_ = q.add(ctx, pipe, job)
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisMirrorQueue) add(ctx context.Context, c redis.Cmdable, job MirrorJob) error {
	return c.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":    job.ID,
			"sender":    job.Sender,
			"recipient": job.Recipient,
			"text":      job.Text,
			"timestamp": strconv.FormatInt(job.Timestamp, 10),
			"attempts":  strconv.Itoa(job.Attempts),
		},
	}).Err()
}

func decodeJob(values map[string]any) (MirrorJob, bool) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	job := MirrorJob{
		ID:        str("job_id"),
		Sender:    str("sender"),
		Recipient: str("recipient"),
		Text:      str("text"),
	}
	if job.ID == "" || job.Sender == "" || job.Recipient == "" {
		return MirrorJob{}, false
	}
	if ts, err := strconv.ParseInt(str("timestamp"), 10, 64); err == nil {
		job.Timestamp = ts
	}
	if n, err := strconv.Atoi(str("attempts")); err == nil {
		job.Attempts = n
	}
	return job, true
}

func positiveInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func positiveInt64(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}

func positiveDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
