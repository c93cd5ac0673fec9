package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"channel-access-bot/internal/models"
)

const (
	keyDue        = "revocations:due"
	keyProcessing = "revocations:processing"
	keyPayload    = "revocations:payload"
)

// claimScript moves due members into the processing set with a lease and
// returns member, payload pairs. Members without a payload are dropped.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	local payload = redis.call('HGET', KEYS[3], member)
	if payload then
		redis.call('ZADD', KEYS[2], ARGV[3], member)
		table.insert(out, member)
		table.insert(out, payload)
	end
end
return out
`)

// ackScript finishes a claimed task. The lease entry is only removed while it
// still belongs to this claim, and the payload is kept when a newer grant
// replaced it while the task was firing.
var ackScript = redis.NewScript(`
local lease = redis.call('ZSCORE', KEYS[1], ARGV[1])
if lease and tonumber(lease) == tonumber(ARGV[3]) then
	redis.call('ZREM', KEYS[1], ARGV[1])
end
if redis.call('HGET', KEYS[2], ARGV[1]) == ARGV[2] then
	redis.call('HDEL', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// recoverScript returns tasks whose lease expired back to the due set.
var recoverScript = redis.NewScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, member in ipairs(stale) do
	redis.call('ZREM', KEYS[1], member)
	if not redis.call('ZSCORE', KEYS[2], member) then
		redis.call('ZADD', KEYS[2], ARGV[1], member)
	end
end
return #stale
`)

// Claimed is a task taken from the queue; it must be acked once handled.
type Claimed struct {
	Task models.RevocationTask
	key  string
	raw  string
	// lease is the deadline this claim wrote to the processing set.
	lease string
}

// Queue is a durable delayed queue of revocation tasks kept in Redis, so
// pending removals survive process restarts.
type Queue struct {
	rdb   *redis.Client
	lease time.Duration
	now   func() time.Time
}

func NewQueue(rdb *redis.Client, lease time.Duration) *Queue {
	return &Queue{
		rdb:   rdb,
		lease: lease,
		now:   time.Now,
	}
}

// Schedule stores task to fire at task.DueAt, replacing any pending task of
// the same user and channel.
func (q *Queue) Schedule(ctx context.Context, task models.RevocationTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal revocation task: %w", err)
	}

	key := task.Key()
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, keyPayload, key, payload)
		pipe.ZAdd(ctx, keyDue, redis.Z{
			Score:  float64(task.DueAt.UnixMilli()),
			Member: key,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule revocation %s: %w", key, err)
	}
	return nil
}

// Claim takes up to limit due tasks. Each claimed task is leased; if it is
// not acked before the lease ends, Recover makes it due again.
func (q *Queue) Claim(ctx context.Context, limit int) ([]Claimed, error) {
	now := q.now()
	lease := millis(now.Add(q.lease))
	pairs, err := claimScript.Run(ctx, q.rdb,
		[]string{keyDue, keyProcessing, keyPayload},
		millis(now), limit, lease,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim revocations: %w", err)
	}

	claimed := make([]Claimed, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, raw := pairs[i], pairs[i+1]
		var task models.RevocationTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			// Unreadable payloads are dropped so they do not come back.
			_ = q.ack(ctx, key, raw, lease)
			continue
		}
		claimed = append(claimed, Claimed{Task: task, key: key, raw: raw, lease: lease})
	}
	return claimed, nil
}

// Ack removes a handled task.
func (q *Queue) Ack(ctx context.Context, c Claimed) error {
	return q.ack(ctx, c.key, c.raw, c.lease)
}

func (q *Queue) ack(ctx context.Context, key, raw, lease string) error {
	if err := ackScript.Run(ctx, q.rdb, []string{keyProcessing, keyPayload}, key, raw, lease).Err(); err != nil {
		return fmt.Errorf("ack revocation %s: %w", key, err)
	}
	return nil
}

// Recover requeues tasks whose lease expired, e.g. after a crash mid-fire.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n, err := recoverScript.Run(ctx, q.rdb,
		[]string{keyProcessing, keyDue},
		millis(q.now()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("recover revocations: %w", err)
	}
	return n, nil
}

// Pending counts scheduled and in-flight tasks.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.HLen(ctx, keyPayload).Result()
}

// Get returns the pending task for a user and channel, if any.
func (q *Queue) Get(ctx context.Context, userID, channelID int64) (*models.RevocationTask, error) {
	key := models.RevocationTask{UserID: userID, ChannelID: channelID}.Key()
	raw, err := q.rdb.HGet(ctx, keyPayload, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get revocation %s: %w", key, err)
	}

	var task models.RevocationTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("decode revocation %s: %w", key, err)
	}
	return &task, nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
