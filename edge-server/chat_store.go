package main

import (
	"context"
	"encoding/json"
	"fmt"

	"cinema-realtime/shared"

	"github.com/go-redis/redis/v8"
)

// maxHistory bounds the stored messages of one conversation.
const maxHistory = 200

// ChatStore keeps conversations and the roster of customers who wrote.
type ChatStore interface {
	// Append stores msg in customerID's conversation and reports whether
	// this is the customer's first conversation.
	Append(ctx context.Context, customerID, customerName string, msg shared.ChatMessage) (bool, error)
	History(ctx context.Context, customerID string) ([]shared.ChatMessage, error)
	Customers(ctx context.Context) ([]shared.ChatCustomer, error)
}

// RedisChatStore keeps each conversation in a capped list and the roster
// in a hash of names plus a sorted set ordered by latest activity.
type RedisChatStore struct {
	rdb *redis.Client
}

func NewRedisChatStore(rdb *redis.Client) *RedisChatStore {
	return &RedisChatStore{rdb: rdb}
}

func (s *RedisChatStore) Append(ctx context.Context, customerID, customerName string, msg shared.ChatMessage) (bool, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}

	isNew, err := s.rdb.HSetNX(ctx, shared.RedisKeyChatCustomers, customerID, customerName).Result()
	if err != nil {
		return false, err
	}

	historyKey := fmt.Sprintf(shared.RedisKeyChatHistory, customerID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, historyKey, data)
	pipe.LTrim(ctx, historyKey, -maxHistory, -1)
	pipe.ZAdd(ctx, shared.RedisKeyChatRecent, &redis.Z{Score: float64(msg.Time.UnixMilli()), Member: customerID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return isNew, nil
}

func (s *RedisChatStore) History(ctx context.Context, customerID string) ([]shared.ChatMessage, error) {
	raw, err := s.rdb.LRange(ctx, fmt.Sprintf(shared.RedisKeyChatHistory, customerID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]shared.ChatMessage, 0, len(raw))
	for _, r := range raw {
		var m shared.ChatMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Customers lists the roster, most recently active first.
func (s *RedisChatStore) Customers(ctx context.Context) ([]shared.ChatCustomer, error) {
	ids, err := s.rdb.ZRevRange(ctx, shared.RedisKeyChatRecent, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []shared.ChatCustomer{}, nil
	}
	names, err := s.rdb.HMGet(ctx, shared.RedisKeyChatCustomers, ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]shared.ChatCustomer, len(ids))
	for i, id := range ids {
		out[i] = shared.ChatCustomer{UserID: id}
		if name, ok := names[i].(string); ok {
			out[i].Name = name
		}
	}
	return out, nil
}
