package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"bloodhub/internal/util"
	"github.com/redis/go-redis/v9"
)

const (
	StatusQueued    = "queued"
	StatusSending   = "sending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Delivery is one outbound message fan-out handed to the notifier worker.
type Delivery struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	RequestID  int64     `json:"requestId,omitempty"`
	Recipients []string  `json:"recipients"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DeliveryStatus tracks a delivery across attempts.
type DeliveryStatus struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type RedisDeliveryQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	statusTTL    time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	StatusTTL  time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisDeliveryQueue(cfg RedisQueueConfig) (*RedisDeliveryQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "notifier"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	statusTTL := cfg.StatusTTL
	if statusTTL <= 0 {
		statusTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisDeliveryQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		statusTTL:    statusTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue records the delivery as queued and appends it to the stream.
func (q *RedisDeliveryQueue) Enqueue(ctx context.Context, d Delivery) (Delivery, error) {
	d.Kind = strings.TrimSpace(d.Kind)
	if d.Kind == "" {
		return Delivery{}, errors.New("delivery kind required")
	}
	if len(d.Recipients) == 0 {
		return Delivery{}, errors.New("delivery recipients required")
	}
	if d.ID == "" {
		d.ID = util.NewID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return Delivery{}, fmt.Errorf("encode delivery: %w", err)
	}
	status := DeliveryStatus{
		ID:        d.ID,
		Kind:      d.Kind,
		Status:    StatusQueued,
		CreatedAt: d.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	if err := q.writeStatus(ctx, status); err != nil {
		return Delivery{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"delivery_id": d.ID,
			"payload":     string(payload),
		},
	}).Err(); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

func (q *RedisDeliveryQueue) GetStatus(ctx context.Context, deliveryID string) (DeliveryStatus, bool, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return DeliveryStatus{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.statusKey(deliveryID)).Result()
	if err != nil {
		return DeliveryStatus{}, false, err
	}
	if len(data) == 0 {
		return DeliveryStatus{}, false, nil
	}
	return decodeDeliveryStatus(deliveryID, data), true, nil
}

// Start launches concurrency consumers that run until ctx is cancelled.
func (q *RedisDeliveryQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, Delivery) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

// Close releases the redis client.
func (q *RedisDeliveryQueue) Close() error {
	return q.client.Close()
}

func (q *RedisDeliveryQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		// BUSYGROUP means another worker created it first; other errors surface on consume.
		_ = q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	})
}

func (q *RedisDeliveryQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Delivery) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				util.LoggerFromContext(ctx).Warn("delivery_queue_read_failed", "stream", q.stream, "err", err)
				sleepCtx(ctx, q.retryDelay)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisDeliveryQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisDeliveryQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, Delivery) error) {
	delivery, ok := decodeMessage(msg)
	if !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	status, err := q.markSending(ctx, delivery)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	err = handler(ctx, delivery)
	if err == nil {
		_ = q.markFinished(ctx, delivery.ID, StatusDelivered, "")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if status.Attempts >= q.maxRetries {
		_ = q.markFinished(ctx, delivery.ID, StatusFailed, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	_ = q.markFinished(ctx, delivery.ID, StatusQueued, err.Error())
	if !sleepCtx(ctx, q.retryDelay) {
		return
	}
	_ = q.requeueAndAck(ctx, msg.ID, delivery.ID, msg.Values["payload"])
}

func decodeMessage(msg redis.XMessage) (Delivery, bool) {
	id, _ := msg.Values["delivery_id"].(string)
	raw, _ := msg.Values["payload"].(string)
	if id == "" || raw == "" {
		return Delivery{}, false
	}
	var d Delivery
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Delivery{}, false
	}
	d.ID = id
	return d, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (q *RedisDeliveryQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck moves a failed message to the stream tail atomically.
func (q *RedisDeliveryQueue) requeueAndAck(ctx context.Context, msgID, deliveryID string, payload any) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"delivery_id": deliveryID,
			"payload":     payload,
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisDeliveryQueue) markSending(ctx context.Context, d Delivery) (DeliveryStatus, error) {
	status, found, err := q.GetStatus(ctx, d.ID)
	if err != nil {
		return DeliveryStatus{}, err
	}
	if !found {
		status = DeliveryStatus{ID: d.ID, Kind: d.Kind, CreatedAt: d.CreatedAt}
	}
	status.Attempts++
	status.Status = StatusSending
	status.UpdatedAt = time.Now().UTC()
	if status.CreatedAt.IsZero() {
		status.CreatedAt = status.UpdatedAt
	}
	if err := q.writeStatus(ctx, status); err != nil {
		return DeliveryStatus{}, err
	}
	return status, nil
}

func (q *RedisDeliveryQueue) markFinished(ctx context.Context, deliveryID, state, errMsg string) error {
	status, _, err := q.GetStatus(ctx, deliveryID)
	if err != nil {
		return err
	}
	status.ID = deliveryID
	status.Status = state
	status.ErrorMessage = errMsg
	status.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, status)
}

func (q *RedisDeliveryQueue) writeStatus(ctx context.Context, status DeliveryStatus) error {
	key := q.statusKey(status.ID)
	payload := map[string]any{
		"id":        status.ID,
		"kind":      status.Kind,
		"status":    status.Status,
		"error":     status.ErrorMessage,
		"attempts":  strconv.Itoa(status.Attempts),
		"createdAt": status.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": status.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.statusTTL).Err()
	return nil
}

func (q *RedisDeliveryQueue) statusKey(deliveryID string) string {
	return fmt.Sprintf("delivery:%s:%s", q.stream, deliveryID)
}

func decodeDeliveryStatus(deliveryID string, data map[string]string) DeliveryStatus {
	status := DeliveryStatus{
		ID:           deliveryID,
		Kind:         data["kind"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			status.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.UpdatedAt = t
		}
	}
	return status
}
