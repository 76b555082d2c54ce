package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
)

const (
	eventKeyPrefix = "event:"
	eventsIndexKey = "events"
	deadlinesKey   = "reservation:deadlines"
	deadlineSep    = "|"
)

// createEventScript stores a new event at version 0 unless the key exists.
var createEventScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'version', 0, 'doc', ARGV[1], 'members', '')
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

// saveEventScript is a compare-and-set on the event version. It also swaps the
// event's entries in the deadline index in the same step.
//
// KEYS[1]: event hash, KEYS[2]: deadline sorted set
// ARGV[1]: expected version, ARGV[2]: document, ARGV[3..]: score, member pairs
var saveEventScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if not current then
	return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
	return 0
end

local old = redis.call('HGET', KEYS[1], 'members')
if old and old ~= '' then
	for member in string.gmatch(old, '[^\n]+') do
		redis.call('ZREM', KEYS[2], member)
	end
end

local members = {}
for i = 3, #ARGV, 2 do
	redis.call('ZADD', KEYS[2], ARGV[i], ARGV[i + 1])
	table.insert(members, ARGV[i + 1])
end

redis.call('HSET', KEYS[1], 'version', tonumber(ARGV[1]) + 1, 'doc', ARGV[2], 'members', table.concat(members, '\n'))
return 1
`)

// RedisAdapter stores each event as a JSON document in a hash next to its
// version. Saves are conditional on the version inside a Lua script, so two
// writers can never both apply a decrement computed from the same read.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) CreateEvent(ctx context.Context, event *domain.Event) error {
	doc, err := json.Marshal(toDocument(event))
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	created, err := createEventScript.Run(ctx, r.client, []string{eventKeyPrefix + event.ID, eventsIndexKey}, doc, event.ID).Int()
	if err != nil {
		return errors.Wrapf(err, "create event %s", event.ID)
	}
	if created == 0 {
		return domain.ErrEventExists
	}
	event.Version = 0
	return nil
}

func (r *RedisAdapter) LoadEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	vals, err := r.client.HMGet(ctx, eventKeyPrefix+eventID, "version", "doc").Result()
	if err != nil {
		return nil, errors.Wrapf(err, "load event %s", eventID)
	}
	versionStr, ok1 := vals[0].(string)
	docStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, domain.ErrEventNotFound
	}

	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse version of event %s", eventID)
	}
	var doc eventDocument
	if err := json.Unmarshal([]byte(docStr), &doc); err != nil {
		return nil, errors.Wrapf(err, "decode event %s", eventID)
	}
	return doc.toDomain(version), nil
}

func (r *RedisAdapter) SaveEvent(ctx context.Context, event *domain.Event, expectedVersion int) error {
	doc, err := json.Marshal(toDocument(event))
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	args := []interface{}{expectedVersion, doc}
	for _, d := range event.Deadlines() {
		args = append(args, d.ExpiresAt.UnixMilli(), deadlineMember(d.EventID, d.OrderID))
	}

	result, err := saveEventScript.Run(ctx, r.client, []string{eventKeyPrefix + event.ID, deadlinesKey}, args...).Int()
	if err != nil {
		return errors.Wrapf(err, "save event %s", event.ID)
	}

	switch result {
	case 1:
		event.Version = expectedVersion + 1
		return nil
	case 0:
		return domain.ErrConcurrentUpdate
	default:
		return domain.ErrEventNotFound
	}
}

func (r *RedisAdapter) ListPendingReservations(ctx context.Context) ([]domain.ReservationDeadline, error) {
	entries, err := r.client.ZRangeWithScores(ctx, deadlinesKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list reservation deadlines")
	}

	out := make([]domain.ReservationDeadline, 0, len(entries))
	for _, z := range entries {
		member, _ := z.Member.(string)
		eventID, orderID, ok := strings.Cut(member, deadlineSep)
		if !ok {
			continue
		}
		out = append(out, domain.ReservationDeadline{
			EventID:   eventID,
			OrderID:   orderID,
			ExpiresAt: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return out, nil
}

func deadlineMember(eventID, orderID string) string {
	return eventID + deadlineSep + orderID
}
