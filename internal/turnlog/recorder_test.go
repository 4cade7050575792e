package turnlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

func TestPublisherAndWorkerPersistTurns(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	queue := NewMemoryQueue(8)
	store := NewMemoryStore()
	publisher := NewPublisher(queue, logging.Default())
	worker := NewWorker(queue, store, logging.Default(), WithWorkerCount(2), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	require.NoError(t, publisher.Record(context.Background(), Turn{ID: "r1", SessionID: "s1", Timestamp: t0, Customer: []string{"hello"}}))
	require.NoError(t, publisher.Record(context.Background(), Turn{ID: "r2", SessionID: "s1", Timestamp: t0.Add(time.Second), Bot: []string{"hi"}}))

	require.Eventually(t, func() bool {
		turns, _ := store.ListOrdered(context.Background(), "s1")
		return len(turns) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	worker.Wait()
}

func TestPublisherRejectsIncompleteTurn(t *testing.T) {
	publisher := NewPublisher(NewMemoryQueue(1), nil)
	err := publisher.Record(context.Background(), Turn{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrInvalidTurn)
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Append(context.Context, string, string, Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("store down")
}

func (f *failingStore) ListOrdered(context.Context, string) ([]Turn, error) { return nil, nil }

type fakeSQS struct {
	mu       sync.Mutex
	pending  []sqstypes.Message
	deleted  []string
	sent     []string
	received chan struct{}
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.pending
	f.pending = nil
	f.mu.Unlock()
	if len(msgs) > 0 {
		defer func() { f.received <- struct{}{} }()
		return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestWorkerKeepsMessageWhenStoreFails(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	body, err := encodeTurn(Turn{ID: "r1", SessionID: "s1", Timestamp: t0})
	require.NoError(t, err)
	fake := &fakeSQS{
		pending: []sqstypes.Message{
			{MessageId: aws.String("m1"), Body: aws.String(body), ReceiptHandle: aws.String("rh-1")},
			{MessageId: aws.String("m2"), Body: aws.String("{not json"), ReceiptHandle: aws.String("rh-2")},
		},
		received: make(chan struct{}, 1),
	}
	store := &failingStore{}
	worker := NewWorker(NewSQSQueue(fake, "https://sqs.local/turns"), store, nil, WithWorkerCount(1))

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	<-fake.received
	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return len(fake.deleted) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	worker.Wait()

	assert.Equal(t, []string{"rh-2"}, fake.deleted, "only the malformed message is dropped")
	store.mu.Lock()
	assert.Equal(t, 1, store.calls)
	store.mu.Unlock()
}

func TestSQSQueueSend(t *testing.T) {
	fake := &fakeSQS{received: make(chan struct{}, 1)}
	publisher := NewPublisher(NewSQSQueue(fake, "https://sqs.local/turns"), nil)
	require.NoError(t, publisher.Record(context.Background(), Turn{ID: "r1", SessionID: "s1", Timestamp: t0}))
	require.Len(t, fake.sent, 1)

	turn, err := decodeTurn(fake.sent[0])
	require.NoError(t, err)
	assert.Equal(t, "r1", turn.ID)
	assert.True(t, turn.Timestamp.Equal(t0))
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	msgs, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
