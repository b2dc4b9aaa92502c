package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/knadh/nilsignal/store"
)

// Config represents the Redis store config structure.
type Config struct {
	Address     string        `koanf:"address"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	ActiveConns int           `koanf:"active_conns"`
	IdleConns   int           `koanf:"idle_conns"`
	Timeout     time.Duration `koanf:"timeout"`

	PrefixChannel    string `koanf:"prefix_channel"`
	PrefixCandidates string `koanf:"prefix_candidates"`
}

// Redis represents the Redis implementation of the Store interface.
// A channel is a hash and its candidates are a separate list that shares
// the hash's expiry.
type Redis struct {
	cfg  *Config
	pool *redis.Pool
}

var (
	// KEYS[1] = channel, ARGV[1] = id, ARGV[2] = expiry (unix seconds).
	createScript = redis.NewScript(1, `
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HMSET", KEYS[1], "channel_id", ARGV[1], "expire_time", ARGV[2])
redis.call("EXPIREAT", KEYS[1], ARGV[2])
return 1
`)

	// KEYS[1] = channel, KEYS[2] = candidates, ARGV[1] = id, ARGV[2] = candidate.
	appendScript = redis.NewScript(2, `
redis.call("HSETNX", KEYS[1], "channel_id", ARGV[1])
local n = redis.call("RPUSH", KEYS[2], ARGV[2])
local exp = redis.call("HGET", KEYS[1], "expire_time")
if exp then
	redis.call("EXPIREAT", KEYS[2], exp)
end
return n
`)

	// KEYS[1] = channel, ARGV[1] = id, ARGV[2] = answer.
	answerScript = redis.NewScript(1, `
redis.call("HSETNX", KEYS[1], "channel_id", ARGV[1])
return redis.call("HSETNX", KEYS[1], "answer", ARGV[2])
`)
)

// New returns a new Redis store.
func New(cfg Config) (*Redis, error) {
	pool := &redis.Pool{
		Wait:      true,
		MaxActive: cfg.ActiveConns,
		MaxIdle:   cfg.IdleConns,
		Dial: func() (redis.Conn, error) {
			return redis.Dial(
				"tcp",
				cfg.Address,
				redis.DialPassword(cfg.Password),
				redis.DialConnectTimeout(cfg.Timeout),
				redis.DialReadTimeout(cfg.Timeout),
				redis.DialWriteTimeout(cfg.Timeout),
				redis.DialDatabase(cfg.DB),
			)
		},
	}

	// Test connection.
	c := pool.Get()
	defer c.Close()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return &Redis{cfg: &cfg, pool: pool}, nil
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.pool.Close()
}

// CreateChannel adds a channel to the store with an absolute expiry.
func (r *Redis) CreateChannel(id string, expireAt time.Time) error {
	c := r.pool.Get()
	defer c.Close()

	ok, err := redis.Int(createScript.Do(c, r.channelKey(id), id, expireAt.Unix()))
	if err != nil {
		return fmt.Errorf("error creating channel: %w", err)
	}
	if ok == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

// SetOffer sets a channel's offer.
func (r *Redis) SetOffer(id, offer string) error {
	c := r.pool.Get()
	defer c.Close()

	if _, err := c.Do("HMSET", r.channelKey(id), "channel_id", id, "offer", offer); err != nil {
		return fmt.Errorf("error setting offer: %w", err)
	}
	return nil
}

// AppendCandidate appends a candidate to a channel's candidate list.
func (r *Redis) AppendCandidate(id string, candidate json.RawMessage) error {
	c := r.pool.Get()
	defer c.Close()

	if _, err := appendScript.Do(c, r.channelKey(id), r.candidatesKey(id), id, []byte(candidate)); err != nil {
		return fmt.Errorf("error appending candidate: %w", err)
	}
	return nil
}

// SetAnswerIfAbsent sets a channel's answer if it doesn't already have one.
func (r *Redis) SetAnswerIfAbsent(id, answer string) error {
	c := r.pool.Get()
	defer c.Close()

	ok, err := redis.Int(answerScript.Do(c, r.channelKey(id), id, answer))
	if err != nil {
		return fmt.Errorf("error setting answer: %w", err)
	}
	if ok == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

// GetChannel gets a channel and its candidates from the store.
func (r *Redis) GetChannel(id string) (store.Channel, error) {
	c := r.pool.Get()
	defer c.Close()

	c.Send("MULTI")
	c.Send("HGETALL", r.channelKey(id))
	c.Send("LRANGE", r.candidatesKey(id), 0, -1)
	res, err := redis.Values(c.Do("EXEC"))
	if err != nil {
		return store.Channel{}, fmt.Errorf("error getting channel: %w", err)
	}
	if len(res) != 2 {
		return store.Channel{}, fmt.Errorf("unexpected reply length %d", len(res))
	}

	fields, err := redis.StringMap(res[0], nil)
	if err != nil {
		return store.Channel{}, err
	}
	if len(fields) == 0 {
		return store.Channel{}, store.ErrChannelNotFound
	}

	items, err := redis.ByteSlices(res[1], nil)
	if err != nil && err != redis.ErrNil {
		return store.Channel{}, err
	}

	out := store.Channel{ID: id}
	if v, ok := fields["expire_time"]; ok {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return store.Channel{}, fmt.Errorf("invalid expire_time %q: %w", v, err)
		}
		out.ExpireTime = time.Unix(sec, 0)
	}
	if v, ok := fields["offer"]; ok {
		out.Offer = &v
	}
	if v, ok := fields["answer"]; ok {
		out.Answer = &v
	}
	for _, b := range items {
		out.Candidates = append(out.Candidates, json.RawMessage(b))
	}
	return out, nil
}

func (r *Redis) channelKey(id string) string {
	return fmt.Sprintf(r.cfg.PrefixChannel, id)
}

func (r *Redis) candidatesKey(id string) string {
	return fmt.Sprintf(r.cfg.PrefixCandidates, id)
}
