package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/track"
)

// Redis is the Redis-backed document store client. Each collection is a hash
// (field = record id, value = JSON document) and every write is published on
// the collection's pub/sub channel as a single-document delta snapshot.
type Redis struct {
	client *redis.Client
	logger core.Logger
}

var _ track.Remote = (*Redis)(nil)

func NewRedis(conf *core.Config, logger core.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Remote.Redis.Addr,
		Password: conf.Remote.Redis.Password,
		DB:       conf.Remote.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, unavailable(err)
	}
	return &Redis{client: client, logger: logger}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Collection(name string) track.RemoteCollection {
	return &redisCollection{
		client:  r.client,
		logger:  r.logger,
		key:     "skilllab:" + name,
		channel: "skilllab:" + name + ":events",
	}
}

type redisCollection struct {
	client  *redis.Client
	logger  core.Logger
	key     string
	channel string
}

func (c *redisCollection) FetchAll(ctx context.Context) ([]json.RawMessage, error) {
	vals, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	docs := make([]json.RawMessage, 0, len(vals))
	for _, val := range vals {
		docs = append(docs, json.RawMessage(val))
	}
	return docs, nil
}

// FetchWhere filters client-side: redis hashes have no secondary index, and
// the collections are small enough that a full read per filtered load is the
// simpler trade.
func (c *redisCollection) FetchWhere(ctx context.Context, field, value string) ([]json.RawMessage, error) {
	docs, err := c.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		if fieldMatches(doc, field, value) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (c *redisCollection) WriteOne(ctx context.Context, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, c.key, id, data)
	pipe.Publish(ctx, c.channel, data)
	if _, err = pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (c *redisCollection) Subscribe(ctx context.Context, fn func(docs []json.RawMessage, full bool)) (func(), error) {
	ps := c.client.Subscribe(ctx, c.channel)
	// force the subscription so failures surface here instead of silently
	// never delivering
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable(err)
	}

	go func() {
		for msg := range ps.Channel() {
			fn([]json.RawMessage{json.RawMessage(msg.Payload)}, false)
		}
		c.logger.Debug(fmt.Sprintf("remote: subscription to %s closed", c.channel))
	}()

	return func() { _ = ps.Close() }, nil
}
