package redis

import (
	"context"
	"time"

	"agri-auth/internal/autherr"
	"agri-auth/internal/client"
)

const (
	flowPrefix    = "flow:"
	flowOpTimeout = 3 * time.Second
)

// FlowStore keeps the per-phone auth flow state in Redis. A missing key means
// the flow has not started; the TTL bounds how long a half-finished signup
// can linger.
type FlowStore struct {
	client *client.RedisClient
}

func NewFlowStore(redisClient *client.RedisClient) *FlowStore {
	return &FlowStore{client: redisClient}
}

func (s *FlowStore) GetState(ctx context.Context, phoneNumber string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, flowOpTimeout)
	defer cancel()

	state, err := s.client.Client.Get(ctx, flowPrefix+phoneNumber).Result()
	if err != nil {
		if isRedisNil(err) {
			return "", nil
		}
		return "", autherr.Wrap(autherr.CodeStoreUnavailable, "failed to read flow state", err)
	}
	return state, nil
}

func (s *FlowStore) SetState(ctx context.Context, phoneNumber, state string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, flowOpTimeout)
	defer cancel()

	if err := s.client.Set(ctx, flowPrefix+phoneNumber, state, ttl); err != nil {
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to set flow state", err)
	}
	return nil
}

func (s *FlowStore) ClearState(ctx context.Context, phoneNumber string) error {
	ctx, cancel := context.WithTimeout(ctx, flowOpTimeout)
	defer cancel()

	if err := s.client.Del(ctx, flowPrefix+phoneNumber); err != nil {
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to clear flow state", err)
	}
	return nil
}
