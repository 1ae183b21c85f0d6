package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"quiz-duel-service/internal/domain"
)

// DuelStore keeps duels in Redis with optimistic WATCH/MULTI writes.
//
//	duel:{id}             JSON duel
//	duel:{id}:rounds      HSET {roundNumber} -> JSON round
//	duel:user:{userID}    SET of the user's non-terminal duel ids
//	duel:in_progress      ZSET duel id scored by updatedAt (unix ms)
type DuelStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewDuelStore keeps finished duels for retention; zero keeps them forever.
func NewDuelStore(client *redis.Client, retention time.Duration) *DuelStore {
	return &DuelStore{client: client, retention: retention}
}

const inProgressKey = "duel:in_progress"

func duelKey(id string) string      { return "duel:" + id }
func roundsKey(id string) string    { return "duel:" + id + ":rounds" }
func userDuelsKey(id string) string { return "duel:user:" + id }
func roundField(number int) string  { return strconv.Itoa(number) }

func (s *DuelStore) Create(ctx context.Context, duel *domain.Duel) error {
	key := duelKey(duel.ID)
	next := *duel
	next.Version = 1
	raw, err := json.Marshal(&next)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrStaleDuel
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			s.index(ctx, pipe, &next)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return mapTxErr(err)
	}
	duel.Version = next.Version
	return nil
}

func (s *DuelStore) Get(ctx context.Context, id string) (*domain.Duel, error) {
	return s.get(ctx, s.client, id)
}

func (s *DuelStore) Rounds(ctx context.Context, duelID string) ([]domain.DuelQuestion, error) {
	fields, err := s.client.HGetAll(ctx, roundsKey(duelID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		n, err := s.client.Exists(ctx, duelKey(duelID)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, domain.ErrDuelNotFound
		}
		return []domain.DuelQuestion{}, nil
	}

	rounds := make([]domain.DuelQuestion, 0, len(fields))
	for _, raw := range fields {
		var r domain.DuelQuestion
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].RoundNumber < rounds[j].RoundNumber })
	return rounds, nil
}

func (s *DuelStore) Save(ctx context.Context, duel *domain.Duel, rounds ...domain.DuelQuestion) error {
	key := duelKey(duel.ID)
	next := *duel
	next.Version = duel.Version + 1
	raw, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	encoded := make([]interface{}, 0, len(rounds)*2)
	for i := range rounds {
		r, err := json.Marshal(&rounds[i])
		if err != nil {
			return err
		}
		encoded = append(encoded, roundField(rounds[i].RoundNumber), r)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx, duel.ID)
		if err != nil {
			return err
		}
		if cur.Version != duel.Version {
			return domain.ErrStaleDuel
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			if len(encoded) > 0 {
				pipe.HSet(ctx, roundsKey(duel.ID), encoded...)
			}
			s.index(ctx, pipe, &next)
			if next.Status.Terminal() && s.retention > 0 {
				pipe.Expire(ctx, key, s.retention)
				pipe.Expire(ctx, roundsKey(duel.ID), s.retention)
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		return mapTxErr(err)
	}
	duel.Version = next.Version
	return nil
}

func (s *DuelStore) ActiveForUser(ctx context.Context, userID string) (*domain.Duel, error) {
	ids, err := s.client.SMembers(ctx, userDuelsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var found *domain.Duel
	for _, id := range ids {
		duel, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrDuelNotFound) {
			// expired or removed out of band
			_ = s.client.SRem(ctx, userDuelsKey(userID), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if duel.Status.Terminal() {
			continue
		}
		if found == nil || duel.CreatedAt.After(found.CreatedAt) {
			found = duel
		}
	}
	return found, nil
}

func (s *DuelStore) StaleInProgress(ctx context.Context, before time.Time) ([]domain.Duel, error) {
	ids, err := s.client.ZRangeByScore(ctx, inProgressKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	stale := make([]domain.Duel, 0, len(ids))
	for _, id := range ids {
		duel, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrDuelNotFound) {
			_ = s.client.ZRem(ctx, inProgressKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if duel.Status == domain.StatusInProgress && duel.UpdatedAt.Before(before) {
			stale = append(stale, *duel)
		}
	}
	return stale, nil
}

// index keeps the per-user and in-progress indexes in step with the duel's status.
func (s *DuelStore) index(ctx context.Context, pipe redis.Pipeliner, duel *domain.Duel) {
	for _, userID := range duel.Participants() {
		if duel.Status.Terminal() {
			pipe.SRem(ctx, userDuelsKey(userID), duel.ID)
		} else {
			pipe.SAdd(ctx, userDuelsKey(userID), duel.ID)
		}
	}
	if duel.Status == domain.StatusInProgress {
		pipe.ZAdd(ctx, inProgressKey, redis.Z{Score: float64(duel.UpdatedAt.UnixMilli()), Member: duel.ID})
	} else {
		pipe.ZRem(ctx, inProgressKey, duel.ID)
	}
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *DuelStore) get(ctx context.Context, c stringGetter, id string) (*domain.Duel, error) {
	raw, err := c.Get(ctx, duelKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrDuelNotFound
	}
	if err != nil {
		return nil, err
	}
	var duel domain.Duel
	if err := json.Unmarshal(raw, &duel); err != nil {
		return nil, err
	}
	return &duel, nil
}

func mapTxErr(err error) error {
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrStaleDuel
	}
	return err
}
