package interfaces

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eshop-ordering/internal/pkg/mq"
	"eshop-ordering/internal/service/ordering/domain"
)

type call struct {
	op       string
	orderID  string
	rejected []int
}

type mockProcess struct {
	mu    sync.Mutex
	calls []call
	errs  []error
	fail  error // 非空时每次调用都失败
}

func (m *mockProcess) record(op, orderID string, rejected []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{op: op, orderID: orderID, rejected: rejected})
	if m.fail != nil {
		return m.fail
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return err
	}
	return nil
}

func (m *mockProcess) NotifyStockConfirmed(_ context.Context, id string) error {
	return m.record("stock-confirmed", id, nil)
}

func (m *mockProcess) NotifyStockRejected(_ context.Context, id string, ids []int) error {
	return m.record("stock-rejected", id, ids)
}

func (m *mockProcess) NotifyPaymentSucceeded(_ context.Context, id string) error {
	return m.record("payment-succeeded", id, nil)
}

func (m *mockProcess) NotifyPaymentFailed(_ context.Context, id string) error {
	return m.record("payment-failed", id, nil)
}

func (m *mockProcess) Cancel(_ context.Context, id string) (bool, error) {
	return true, m.record("cancel", id, nil)
}

func (m *mockProcess) Ship(_ context.Context, id string) (bool, error) {
	return false, m.record("ship", id, nil)
}

func (m *mockProcess) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, 0, len(m.calls))
	for _, c := range m.calls {
		ops = append(ops, c.op)
	}
	return ops
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func runConsumer(t *testing.T, c *NotificationConsumer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func headerMap(headers []kafka.Header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Key] = string(h.Value)
	}
	return m
}

func TestDispatchRoutesEveryType(t *testing.T) {
	p := &mockProcess{}
	c := NewNotificationConsumer(&fakeReader{}, p)
	ctx := context.Background()

	for _, typ := range []string{
		NotificationStockConfirmed, NotificationStockRejected, NotificationPaymentSucceeded,
		NotificationPaymentFailed, NotificationCancel, NotificationShip,
	} {
		require.NoError(t, c.Dispatch(ctx, Notification{Type: typ, OrderID: "o1", RejectedProductIDs: []int{3}}))
	}
	assert.Equal(t, []string{
		"stock-confirmed", "stock-rejected", "payment-succeeded", "payment-failed", "cancel", "ship",
	}, p.ops())
	assert.Equal(t, []int{3}, p.calls[1].rejected)

	err := c.Dispatch(ctx, Notification{Type: "refund", OrderID: "o1"})
	assert.ErrorIs(t, err, ErrUnknownNotification)
}

func TestRunProcessesAndCommits(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"type":"stock-rejected","orderId":"o1","rejectedProductIds":[1,2]}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`{"type":"ship"}`)},
		{Offset: 4, Value: []byte(`{"type":"cancel","orderId":"o2"}`)},
	}}
	p := &mockProcess{}
	c := NewNotificationConsumer(reader, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return reader.commits() == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"stock-rejected", "cancel"}, p.ops())
	assert.Equal(t, []int{1, 2}, p.calls[0].rejected)
	assert.True(t, reader.closed)
}

func TestProcessMessageRetriesTransientErrors(t *testing.T) {
	p := &mockProcess{errs: []error{assert.AnError, assert.AnError}}
	c := NewNotificationConsumer(&fakeReader{}, p)
	c.backoff = time.Millisecond

	commit := c.processMessage(context.Background(), kafka.Message{Value: []byte(`{"type":"payment-succeeded","orderId":"o1"}`)})
	assert.True(t, commit)
	assert.Len(t, p.ops(), 3)
}

func TestProcessMessageDoesNotRetryEmptyRejection(t *testing.T) {
	p := &mockProcess{errs: []error{domain.ErrEmptyRejection}}
	c := NewNotificationConsumer(&fakeReader{}, p)
	c.backoff = time.Millisecond

	commit := c.processMessage(context.Background(), kafka.Message{Value: []byte(`{"type":"stock-rejected","orderId":"o1"}`)})
	assert.True(t, commit)
	assert.Len(t, p.ops(), 1)
}

func TestRunHoldsOffsetWhileProcessKeepsFailing(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 7, Value: []byte(`{"type":"stock-confirmed","orderId":"o1"}`)},
	}}
	p := &mockProcess{fail: assert.AnError}
	c := NewNotificationConsumer(reader, p)
	c.backoff = time.Millisecond

	stop := runConsumer(t, c)
	// 超过单轮重试次数后仍在重试，说明消息没有被丢弃
	assert.Eventually(t, func() bool { return len(p.ops()) > 2*c.attempts }, time.Second, time.Millisecond)
	stop()

	assert.Zero(t, reader.commits())
	for _, op := range p.ops() {
		assert.Equal(t, "stock-confirmed", op)
	}
}

func TestRunForwardsExhaustedNotificationToDeadLetter(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{
		Topic: "ordering-notifications", Partition: 2, Offset: 41,
		Key:   []byte("o1"),
		Value: []byte(`{"type":"payment-succeeded","orderId":"o1"}`),
	}}}
	p := &mockProcess{fail: assert.AnError}
	dlt := &fakeWriter{}
	c := NewNotificationConsumer(reader, p).WithDeadLetter(dlt, "ordering-notifications-dlt")
	c.backoff = time.Millisecond

	stop := runConsumer(t, c)
	assert.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, time.Millisecond)
	stop()

	assert.Len(t, p.ops(), c.attempts)
	msgs := dlt.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ordering-notifications-dlt", msgs[0].Topic)
	assert.Equal(t, []byte("o1"), msgs[0].Key)
	assert.JSONEq(t, `{"type":"payment-succeeded","orderId":"o1"}`, string(msgs[0].Value))

	h := headerMap(msgs[0].Headers)
	assert.Equal(t, "ordering-notifications", h[mq.HeaderOriginalTopic])
	assert.Equal(t, "2", h[mq.HeaderOriginalPartition])
	assert.Equal(t, "41", h[mq.HeaderOriginalOffset])
	assert.Equal(t, assert.AnError.Error(), h[mq.HeaderExceptionMessage])
	assert.NotEmpty(t, h[mq.HeaderExceptionFqcn])
}

func TestRunHoldsOffsetWhenDeadLetterWriteFails(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 3, Value: []byte(`{"type":"ship","orderId":"o1"}`)},
	}}
	p := &mockProcess{fail: assert.AnError}
	dlt := &fakeWriter{err: errors.New("broker unavailable")}
	c := NewNotificationConsumer(reader, p).WithDeadLetter(dlt, "ordering-notifications-dlt")
	c.backoff = time.Millisecond

	stop := runConsumer(t, c)
	assert.Eventually(t, func() bool { return len(p.ops()) > 2*c.attempts }, time.Second, time.Millisecond)
	stop()

	assert.Zero(t, reader.commits())
	assert.Empty(t, dlt.written())
}

func TestRunCommitsPermanentFailuresWithoutDeadLetter(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"type":"refund","orderId":"o1"}`)},
		{Offset: 2, Value: []byte(`{"type":"stock-rejected","orderId":"o1"}`)},
	}}
	p := &mockProcess{errs: []error{domain.ErrEmptyRejection}}
	dlt := &fakeWriter{}
	c := NewNotificationConsumer(reader, p).WithDeadLetter(dlt, "ordering-notifications-dlt")
	c.backoff = time.Millisecond

	stop := runConsumer(t, c)
	assert.Eventually(t, func() bool { return reader.commits() == 2 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, []string{"stock-rejected"}, p.ops())
	assert.Empty(t, dlt.written())
}
