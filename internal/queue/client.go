package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voicedesk/internal/redis"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Job is the envelope moved through a queue. Payload stays raw until
// the handler decodes it into its typed form.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DedupKey   string          `json:"dedup_key,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// DecodePayload unmarshals the job payload into v.
func (j Job) DecodePayload(v interface{}) error {
	if len(j.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(j.Payload, v)
}

// Options tunes a single enqueue.
type Options struct {
	// DedupID collapses duplicate enqueues of the same logical unit of
	// work while one is outstanding, e.g. "<sessionId>-TRANSCRIBE".
	DedupID string
	// Delay holds the job back before it becomes consumable.
	Delay time.Duration
}

// Client enqueues jobs onto redis-backed queues.
type Client struct {
	rdb *redis.Client
}

const dedupTTL = time.Hour

func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func jobsKey(queue string) string { return "voicedesk:q:" + queue }

func delayedKey(queue string) string { return "voicedesk:q:" + queue + ":delayed" }

func dedupRedisKey(queue, id string) string { return "voicedesk:q:" + queue + ":dedup:" + id }

// Enqueue pushes a job. With a DedupID set, a duplicate of an
// outstanding job is dropped silently; delivery stays at-least-once
// either way.
func (c *Client) Enqueue(ctx context.Context, queue, name string, payload interface{}, opts Options) error {
	if queue == "" || name == "" {
		return errors.New("queue and job name required")
	}

	if opts.DedupID != "" {
		set, err := c.rdb.SetNX(ctx, dedupRedisKey(queue, opts.DedupID), "1", dedupTTL)
		if err != nil {
			return fmt.Errorf("dedup check %s: %w", opts.DedupID, err)
		}
		if !set {
			debugf("enqueue collapsed queue=%s name=%s dedup=%s", queue, name, opts.DedupID)
			return nil
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s/%s: %w", queue, name, err)
	}

	job := Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Name:       name,
		Payload:    raw,
		DedupKey:   opts.DedupID,
		EnqueuedAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s/%s: %w", queue, name, err)
	}

	rdb := c.rdb.Raw()
	if opts.Delay > 0 {
		readyAt := float64(time.Now().Add(opts.Delay).UnixMilli())
		if err := rdb.ZAdd(ctx, delayedKey(queue), goredis.Z{Score: readyAt, Member: encoded}).Err(); err != nil {
			return fmt.Errorf("enqueue delayed %s/%s: %w", queue, name, err)
		}
		return nil
	}
	if err := rdb.LPush(ctx, jobsKey(queue), encoded).Err(); err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", queue, name, err)
	}
	return nil
}

// clearDedup releases the job's dedup slot so the next logical
// duplicate can enqueue again.
func (c *Client) clearDedup(ctx context.Context, job Job) {
	if job.DedupKey == "" {
		return
	}
	_ = c.rdb.Del(ctx, dedupRedisKey(job.Queue, job.DedupKey))
}
