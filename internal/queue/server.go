package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"voicedesk/internal/redis"

	goredis "github.com/redis/go-redis/v9"
)

// ErrHandlerNotFound marks a job whose name has no bound handler. This
// is a deployment mismatch, so dispatch fails loudly instead of
// dropping the job.
var ErrHandlerNotFound = errors.New("handler_not_found")

// HandlerFunc processes one decoded job envelope.
type HandlerFunc func(ctx context.Context, job Job) error

// Manifest binds job names to handlers for one queue. The lookup table
// is explicit; there is no implicit registration.
type Manifest map[string]HandlerFunc

type queueRuntime struct {
	name        string
	concurrency int
	manifest    Manifest
}

// Server consumes queues, one goroutine pool per queue.
type Server struct {
	rdb     *redis.Client
	client  *Client
	queues  []*queueRuntime
	release func(ctx context.Context, job Job)
}

func NewServer(rdb *redis.Client) *Server {
	s := &Server{rdb: rdb, client: NewClient(rdb)}
	s.release = s.client.clearDedup
	return s
}

// HandleQueue registers a consumer pool. Concurrency below one falls
// back to one.
func (s *Server) HandleQueue(name string, concurrency int, manifest Manifest) {
	if concurrency < 1 {
		concurrency = 1
	}
	s.queues = append(s.queues, &queueRuntime{
		name:        name,
		concurrency: concurrency,
		manifest:    manifest,
	})
}

// Run blocks consuming all registered queues until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if len(s.queues) == 0 {
		return errors.New("no queues registered")
	}

	var wg sync.WaitGroup
	for _, q := range s.queues {
		wg.Add(1)
		go func(q *queueRuntime) {
			defer wg.Done()
			s.promoteDelayed(ctx, q)
		}(q)
		for i := 0; i < q.concurrency; i++ {
			wg.Add(1)
			go func(q *queueRuntime) {
				defer wg.Done()
				s.consume(ctx, q)
			}(q)
		}
		log.Printf("[queue] consuming queue=%s concurrency=%d handlers=%d", q.name, q.concurrency, len(q.manifest))
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Server) consume(ctx context.Context, q *queueRuntime) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := s.rdb.Raw().BRPop(ctx, 2*time.Second, jobsKey(q.name)).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Printf("[queue] pop failed queue=%s err=%v", q.name, err)
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Printf("[queue] job decode failed queue=%s err=%v", q.name, err)
			continue
		}

		s.runJob(ctx, q, job)
	}
}

// runJob dispatches and only then releases the dedup slot. The slot is
// held for the whole handler run, so a duplicate enqueued while the job
// is in flight collapses instead of racing it. Failures release the
// slot too; the producing side re-enqueues when the document state
// still calls for the work.
func (s *Server) runJob(ctx context.Context, q *queueRuntime, job Job) {
	_ = s.dispatch(ctx, q.manifest, job)
	s.release(ctx, job)
}

// dispatch looks the job up in the manifest and runs it, logging the
// structured completion/failure contract.
func (s *Server) dispatch(ctx context.Context, manifest Manifest, job Job) error {
	handler, ok := manifest[job.Name]
	if !ok {
		log.Printf("[queue] handler_not_found queue=%s name=%s id=%s", job.Queue, job.Name, job.ID)
		return fmt.Errorf("voicedesk worker has no handler bound for %q: %w", job.Name, ErrHandlerNotFound)
	}

	started := time.Now()
	err := handler(ctx, job)
	duration := time.Since(started).Milliseconds()
	if err != nil {
		log.Printf("[queue] job_failed queue=%s name=%s id=%s duration_ms=%d err=%v", job.Queue, job.Name, job.ID, duration, err)
		return err
	}
	log.Printf("[queue] job_completed queue=%s name=%s id=%s duration_ms=%d", job.Queue, job.Name, job.ID, duration)
	return nil
}

// promoteScriptSrc moves one due member from the delayed set to the
// ready list in a single server-side step, so a promoter dying between
// the two commands can never drop the job.
const promoteScriptSrc = `
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
	redis.call('LPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0`

var promoteScript = goredis.NewScript(promoteScriptSrc)

// promoteDelayed moves due jobs from the delayed set onto the list.
func (s *Server) promoteDelayed(ctx context.Context, q *queueRuntime) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		rdb := s.rdb.Raw()
		due, err := rdb.ZRangeByScore(ctx, delayedKey(q.name), &goredis.ZRangeBy{Min: "-inf", Max: now}).Result()
		if err != nil || len(due) == 0 {
			continue
		}
		for _, encoded := range due {
			keys := []string{delayedKey(q.name), jobsKey(q.name)}
			if err := promoteScript.Run(ctx, rdb, keys, encoded).Err(); err != nil {
				log.Printf("[queue] promote failed queue=%s err=%v", q.name, err)
			}
		}
	}
}
