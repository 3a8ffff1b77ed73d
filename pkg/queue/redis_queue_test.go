package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisDeliveryQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msg, d := newPendingDelivery(t)

	if err := q.requeueAndAck(ctx, msg.ID, d.ID, msg.Values["payload"]); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("pending = %d, want 0", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got, ok := decodeMessage(streams[0].Messages[0])
	if !ok {
		t.Fatalf("requeued message did not decode: %+v", streams[0].Messages[0].Values)
	}
	if got.ID != d.ID || got.RequestID != 7 || len(got.Recipients) != 2 {
		t.Fatalf("requeued delivery = %+v", got)
	}
}

func TestRedisDeliveryQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msg, d := newPendingDelivery(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msg.ID, d.ID, msg.Values["payload"]); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("pending = %d, want original message kept", pending.Count)
	}
	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("stream len = %d, want 1", streamLen)
	}
}

func TestRedisDeliveryQueueEnqueueValidates(t *testing.T) {
	srv := miniredis.RunT(t)
	q, err := NewRedisDeliveryQueue(RedisQueueConfig{Addr: srv.Addr(), Stream: "test:deliveries"})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, Delivery{Kind: "critical_request"}); err == nil {
		t.Fatalf("expected error without recipients")
	}
	if _, err := q.Enqueue(ctx, Delivery{Recipients: []string{"9000000001"}}); err == nil {
		t.Fatalf("expected error without kind")
	}
}

func TestRedisDeliveryQueueStartRetriesThenDelivers(t *testing.T) {
	srv := miniredis.RunT(t)
	q, err := NewRedisDeliveryQueue(RedisQueueConfig{
		Addr:       srv.Addr(),
		Stream:     "test:deliveries",
		Group:      "test-group",
		Consumer:   "worker",
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := q.Enqueue(ctx, Delivery{Kind: "low_stock", Recipients: []string{"9000000009"}, Message: "low"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var calls atomic.Int32
	done := make(chan struct{})
	q.Start(ctx, 1, func(_ context.Context, got Delivery) error {
		if calls.Add(1) == 1 {
			return errors.New("transport down")
		}
		if got.Message != "low" {
			t.Errorf("message = %q, want low", got.Message)
		}
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("delivery not handled, calls = %d", calls.Load())
	}

	deadline := time.Now().Add(time.Second)
	for {
		status, ok, err := q.GetStatus(context.Background(), d.ID)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if ok && status.Status == StatusDelivered {
			if status.Attempts != 2 {
				t.Fatalf("attempts = %d, want 2", status.Attempts)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %+v, want delivered", status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newPendingDelivery(t *testing.T) (*RedisDeliveryQueue, context.Context, redis.XMessage, Delivery) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisDeliveryQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:deliveries",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	q.ensureGroup(ctx)

	d, err := q.Enqueue(ctx, Delivery{
		Kind:       "critical_request",
		RequestID:  7,
		Recipients: []string{"9000000001", "9000000002"},
		Message:    "urgent",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return q, ctx, streams[0].Messages[0], d
}
