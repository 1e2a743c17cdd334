package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryCountHeaderWidths(t *testing.T) {
	assert.Equal(t, int64(0), retryCount(nil))
	assert.Equal(t, int64(0), retryCount(amqp.Table{}))
	assert.Equal(t, int64(2), retryCount(amqp.Table{retryCountHeader: int64(2)}))
	assert.Equal(t, int64(2), retryCount(amqp.Table{retryCountHeader: int32(2)}))
	assert.Equal(t, int64(2), retryCount(amqp.Table{retryCountHeader: int(2)}))
	assert.Equal(t, int64(0), retryCount(amqp.Table{retryCountHeader: "2"}))
}

func TestBackoffDelayDoubles(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialBackoff: 30 * time.Second}

	assert.Equal(t, 30*time.Second, backoffDelay(p, 1))
	assert.Equal(t, 60*time.Second, backoffDelay(p, 2))
	assert.Equal(t, 120*time.Second, backoffDelay(p, 3))
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	p := DefaultRetryPolicy

	for i := 0; i < 100; i++ {
		d := backoffDelay(p, 1)
		assert.GreaterOrEqual(t, d, 24*time.Second)
		assert.LessOrEqual(t, d, 36*time.Second)
	}
}

type publisherRecorder struct {
	queue string
	msg   amqp.Publishing
}

func (p *publisherRecorder) PublishWithContext(_ context.Context, _ string, key string, _, _ bool, msg amqp.Publishing) error {
	p.queue = key
	p.msg = msg
	return nil
}

func TestEnqueueBuildsPersistentMessage(t *testing.T) {
	pub := &publisherRecorder{}
	d := NewDispatcherWithPublisher(pub)

	err := d.Enqueue(context.Background(), QueueSales, TaskSyncBanking, map[string]any{"sale_id": "s-1"})
	require.NoError(t, err)

	assert.Equal(t, QueueSales, pub.queue)
	assert.Equal(t, uint8(amqp.Persistent), pub.msg.DeliveryMode)

	var msg Message
	require.NoError(t, json.Unmarshal(pub.msg.Body, &msg))
	assert.Equal(t, TaskSyncBanking, msg.Task)
	assert.Equal(t, "s-1", msg.Args["sale_id"])
	assert.False(t, msg.EnqueuedAt.IsZero())
}
