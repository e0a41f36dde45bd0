package rabbitmq

import (
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type declaredExchange struct {
	name, kind string
	durable    bool
}

type declaredQueue struct {
	name    string
	durable bool
	args    amqp.Table
}

type binding struct {
	queue, key, exchange string
}

type fakeDeclarer struct {
	exchanges []declaredExchange
	queues    []declaredQueue
	bindings  []binding

	exchangeErr error
	queueErr    error
	bindErr     error
}

func (f *fakeDeclarer) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if f.exchangeErr != nil {
		return f.exchangeErr
	}
	f.exchanges = append(f.exchanges, declaredExchange{name: name, kind: kind, durable: durable})
	return nil
}

func (f *fakeDeclarer) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if f.queueErr != nil {
		return amqp.Queue{}, f.queueErr
	}
	f.queues = append(f.queues, declaredQueue{name: name, durable: durable, args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeDeclarer) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	f.bindings = append(f.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func otpTopology() Topology {
	return Topology{
		ExchangeName:    "otp_exchange",
		ExchangeType:    "direct",
		ExchangeDurable: true,
		QueueName:       "otp_queue",
		QueueDurable:    true,
		RoutingKey:      "otp_queue",
		DeadLetterQueue: "otp_queue.dlq",
	}
}

func TestEnsure(t *testing.T) {
	ch := &fakeDeclarer{}

	require.NoError(t, Ensure(ch, otpTopology()))

	assert.Equal(t, []declaredExchange{{name: "otp_exchange", kind: "direct", durable: true}}, ch.exchanges)
	assert.Equal(t, []declaredQueue{
		{name: "otp_queue", durable: true},
		{name: "otp_queue.dlq", durable: true},
	}, ch.queues)
	assert.Equal(t, []binding{
		{queue: "otp_queue", key: "otp_queue", exchange: "otp_exchange"},
		{queue: "otp_queue.dlq", key: "otp_queue.dlq", exchange: "otp_exchange"},
	}, ch.bindings)
}

func TestEnsure_Idempotent(t *testing.T) {
	ch := &fakeDeclarer{}

	require.NoError(t, Ensure(ch, otpTopology()))
	require.NoError(t, Ensure(ch, otpTopology()))

	assert.Len(t, ch.exchanges, 2)
	assert.Equal(t, ch.queues[:2], ch.queues[2:])
}

func TestEnsure_WithoutDeadLetterQueue(t *testing.T) {
	ch := &fakeDeclarer{}
	topo := otpTopology()
	topo.DeadLetterQueue = ""

	require.NoError(t, Ensure(ch, topo))
	assert.Len(t, ch.queues, 1)
	assert.Len(t, ch.bindings, 1)
}

func TestEnsure_Errors(t *testing.T) {
	precondition := &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg 'durable'"}

	tests := []struct {
		name    string
		ch      *fakeDeclarer
		wantMsg string
	}{
		{name: "exchange mismatch", ch: &fakeDeclarer{exchangeErr: precondition}, wantMsg: "failed to declare exchange otp_exchange"},
		{name: "queue mismatch", ch: &fakeDeclarer{queueErr: precondition}, wantMsg: "failed to declare queue otp_queue"},
		{name: "bind failure", ch: &fakeDeclarer{bindErr: errors.New("channel closed")}, wantMsg: "failed to bind queue otp_queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Ensure(tt.ch, otpTopology())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTopology)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
