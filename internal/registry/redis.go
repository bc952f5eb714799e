package registry

import (
	"strings"

	"github.com/go-redis/redis/v7"
)

const keyPrefix = "fognode:instance:"

type redisRegistry struct {
	client *redis.Client
}

func NewRedis(options *redis.Options) (Registry, error) {
	client := redis.NewClient(options)

	if _, err := client.Ping().Result(); err != nil {
		return nil, err
	}

	return &redisRegistry{client: client}, nil
}

func (r *redisRegistry) Get(name string) (string, error) {
	return r.client.Get(keyPrefix + name).Result()
}

func (r *redisRegistry) Set(name string, snapshot string) error {
	return r.client.Set(keyPrefix+name, snapshot, 0).Err()
}

func (r *redisRegistry) Delete(name string) error {
	return r.client.Del(keyPrefix + name).Err()
}

func (r *redisRegistry) List() ([]string, error) {
	keys, err := r.client.Keys(keyPrefix + "*").Result()

	if err != nil {
		return nil, err
	}

	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = strings.TrimPrefix(key, keyPrefix)
	}

	return names, nil
}
