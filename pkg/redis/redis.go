package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyQuestionIDs = "quiz:question_ids"
	keyUserEmails  = "quiz:user_emails"
	keyUsers       = "quiz:users"
	keyAttempts    = "quiz:attempts"
	keyStarred     = "quiz:starred"

	upsertRetries = 3
)

func questionKey(id int) string { return fmt.Sprintf("quiz:question:%d", id) }
func userKey(id string) string { return "quiz:user:" + id }
func attemptKey(id string) string { return "quiz:attempt:" + id }
func zscore(t time.Time) float64 { return float64(t.UnixMilli()) }
func notFound(err error) bool { return errors.Is(err, redis.Nil) }
func wrap(op string, err error) error { return fmt.Errorf("redis %s: %w", op, err) }

// RedisClient is the Redis-backed record store
type RedisClient struct {
	client *redis.Client
	log    *logger.Logger
	now    func() time.Time
}

var _ store.Store = (*RedisClient)(nil)

// NewRedisClient connects and verifies the connection with a ping
func NewRedisClient(ctx context.Context, addr, password string, db int, log *logger.Logger) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, wrap("connect "+addr, err)
	}
	log.Info("connected to redis", "addr", addr, "db", db)
	return &RedisClient{client: rdb, log: log, now: time.Now}, nil
}

func (r *RedisClient) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrap("health check", err)
	}
	return nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

// UpsertUser finds the user by email under WATCH so two concurrent intakes
// for one email end with a single user id
func (r *RedisClient) UpsertUser(ctx context.Context, in models.UserInput) (models.User, error) {
	var user models.User
	txf := func(tx *redis.Tx) error {
		id, err := tx.HGet(ctx, keyUserEmails, in.Email).Result()
		switch {
		case notFound(err):
			user = models.User{ID: uuid.NewString(), CreatedAt: r.now().UTC()}
		case err != nil:
			return err
		default:
			raw, err := tx.Get(ctx, userKey(id)).Bytes()
			switch {
			case notFound(err):
				user = models.User{ID: id, CreatedAt: r.now().UTC()}
			case err != nil:
				return err
			default:
				if err := json.Unmarshal(raw, &user); err != nil {
					return err
				}
			}
		}
		user.Name = in.Name
		user.Email = in.Email
		user.ProfileURL = in.ProfileURL

		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKey(user.ID), data, 0)
			pipe.HSet(ctx, keyUserEmails, user.Email, user.ID)
			pipe.ZAdd(ctx, keyUsers, redis.Z{Score: zscore(user.CreatedAt), Member: user.ID})
			return nil
		})
		return err
	}

	for i := 0; i < upsertRetries; i++ {
		err := r.client.Watch(ctx, txf, keyUserEmails)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return models.User{}, wrap("upsert user", err)
		}
		return user, nil
	}
	return models.User{}, wrap("upsert user", redis.TxFailedErr)
}

func (r *RedisClient) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	if err := r.getJSON(ctx, userKey(id), &u); err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (r *RedisClient) ListUsers(ctx context.Context) ([]models.User, error) {
	ids, err := r.client.ZRevRange(ctx, keyUsers, 0, -1).Result()
	if err != nil {
		return nil, wrap("list users", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}
	users := make([]models.User, 0, len(ids))
	err = r.mgetJSON(ctx, keys, func(raw []byte) error {
		var u models.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		users = append(users, u)
		return nil
	})
	return users, err
}

func (r *RedisClient) InsertAttempt(ctx context.Context, a models.Attempt) (models.Attempt, error) {
	stored := a.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return models.Attempt{}, err
	}
	var created *redis.BoolCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, attemptKey(stored.ID), data, 0)
		pipe.ZAddNX(ctx, keyAttempts, redis.Z{Score: zscore(stored.CompletedAt), Member: stored.ID})
		return nil
	})
	if err != nil {
		return models.Attempt{}, wrap("insert attempt", err)
	}
	if !created.Val() {
		r.log.Info("attempt already stored", "attempt_id", stored.ID)
		return r.GetAttempt(ctx, stored.ID)
	}
	return stored, nil
}

func (r *RedisClient) GetAttempt(ctx context.Context, id string) (models.Attempt, error) {
	var a models.Attempt
	if err := r.getJSON(ctx, attemptKey(id), &a); err != nil {
		return models.Attempt{}, err
	}
	return a, nil
}

func (r *RedisClient) ListAttempts(ctx context.Context) ([]models.Attempt, error) {
	ids, err := r.client.ZRevRange(ctx, keyAttempts, 0, -1).Result()
	if err != nil {
		return nil, wrap("list attempts", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = attemptKey(id)
	}
	attempts := make([]models.Attempt, 0, len(ids))
	err = r.mgetJSON(ctx, keys, func(raw []byte) error {
		var a models.Attempt
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		attempts = append(attempts, a)
		return nil
	})
	return attempts, err
}

func (r *RedisClient) SetStarred(ctx context.Context, attemptID string, starred bool) error {
	var err error
	if starred {
		err = r.client.SAdd(ctx, keyStarred, attemptID).Err()
	} else {
		err = r.client.SRem(ctx, keyStarred, attemptID).Err()
	}
	if err != nil {
		return wrap("set starred", err)
	}
	return nil
}

func (r *RedisClient) StarredAttempts(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, keyStarred).Result()
	if err != nil {
		return nil, wrap("list starred", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveQuestions replaces the catalog: old question keys are dropped and
// each record is stored under its own key, indexed by the id set
func (r *RedisClient) SaveQuestions(ctx context.Context, questions []models.QuestionRecord) error {
	if err := r.ClearAllQuestions(ctx); err != nil {
		r.log.Warn("could not clear question catalog", "error", err)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ids := make([]interface{}, 0, len(questions))
		for _, q := range questions {
			data, err := json.Marshal(q)
			if err != nil {
				return err
			}
			pipe.Set(ctx, questionKey(q.ID), data, 0)
			ids = append(ids, q.ID)
		}
		if len(ids) > 0 {
			pipe.SAdd(ctx, keyQuestionIDs, ids...)
		}
		return nil
	})
	if err != nil {
		return wrap("save questions", err)
	}
	r.log.Debug("question catalog saved", "count", len(questions))
	return nil
}

func (r *RedisClient) ListQuestions(ctx context.Context) ([]models.QuestionRecord, error) {
	members, err := r.client.SMembers(ctx, keyQuestionIDs).Result()
	if err != nil {
		return nil, wrap("list question ids", err)
	}
	keys := make([]string, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			r.log.Warn("invalid question id in catalog", "id", m)
			continue
		}
		keys = append(keys, questionKey(id))
	}
	questions := make([]models.QuestionRecord, 0, len(keys))
	err = r.mgetJSON(ctx, keys, func(raw []byte) error {
		var q models.QuestionRecord
		if err := json.Unmarshal(raw, &q); err != nil {
			return err
		}
		questions = append(questions, q)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	return questions, nil
}

// GetQuestionCount is the size of the stored catalog
func (r *RedisClient) GetQuestionCount(ctx context.Context) (int, error) {
	count, err := r.client.SCard(ctx, keyQuestionIDs).Result()
	if err != nil {
		return 0, wrap("question count", err)
	}
	return int(count), nil
}

// ClearAllQuestions removes every catalog key
func (r *RedisClient) ClearAllQuestions(ctx context.Context) error {
	members, err := r.client.SMembers(ctx, keyQuestionIDs).Result()
	if err != nil {
		return wrap("list question ids", err)
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, "quiz:question:"+m)
	}
	keys = append(keys, keyQuestionIDs)
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisClient) getJSON(ctx context.Context, key string, dst interface{}) error {
	raw, err := r.client.Get(ctx, key).Bytes()
	if notFound(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return wrap("get "+key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// mgetJSON fetches keys in one round trip, skipping keys that vanished
func (r *RedisClient) mgetJSON(ctx context.Context, keys []string, each func([]byte) error) error {
	if len(keys) == 0 {
		return nil
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return wrap("mget", err)
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			r.log.Warn("indexed record missing", "key", keys[i])
			continue
		}
		if err := each([]byte(s)); err != nil {
			return fmt.Errorf("decoding %s: %w", keys[i], err)
		}
	}
	return nil
}
