package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"
)

// Message.Key 与 Metadata 通过消息头传递
const (
	headerKey        = "Darkpool-Key"
	headerMetaPrefix = "Darkpool-Meta-"
)

// JetStreamQueue implements Queue on a NATS JetStream work-queue stream with
// one durable pull consumer. The consumer's AckWait is the visibility
// timeout, so it is fixed when the queue is created.
type JetStreamQueue struct {
	js       jetstream.JetStream
	stream   jetstream.Stream
	consumer jetstream.Consumer
	subject  string
	ackWait  time.Duration
	maxWait  time.Duration

	// 已拉取未确认的消息，按 stream sequence 索引
	inflight *xsync.Map[string, jetstream.Msg]
}

func NewJetStreamQueue(ctx context.Context, nc *nats.Conn, streamName, subject, durable string, ackWait time.Duration) (*JetStreamQueue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	st, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy, // 每条消息只被一个消费者处理
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", streamName, err)
	}

	cons, err := st.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    -1,
		FilterSubject: subject,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", durable, err)
	}

	return &JetStreamQueue{
		js:       js,
		stream:   st,
		consumer: cons,
		subject:  subject,
		ackWait:  ackWait,
		maxWait:  time.Second,
		inflight: xsync.NewMap[string, jetstream.Msg](),
	}, nil
}

func (q *JetStreamQueue) Send(ctx context.Context, msg *Message) (string, error) {
	var opts []jetstream.PublishOpt
	if msg.ID != "" {
		opts = append(opts, jetstream.WithMsgID(msg.ID))
	}
	m := nats.NewMsg(q.subject)
	m.Data = msg.Payload
	if msg.Key != "" {
		m.Header.Set(headerKey, msg.Key)
	}
	for k, v := range msg.Metadata {
		m.Header.Set(headerMetaPrefix+k, v)
	}
	ack, err := q.js.PublishMsg(ctx, m, opts...)
	if err != nil {
		return "", fmt.Errorf("jetstream publish: %w", err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// Poll fetches up to max messages. visibility must not exceed the consumer's
// AckWait; longer values are capped by the server.
func (q *JetStreamQueue) Poll(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	wait := q.maxWait
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
		wait = time.Until(dl)
	}
	batch, err := q.consumer.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("jetstream fetch: %w", err)
	}

	var out []Delivery
	for m := range batch.Messages() {
		md, err := m.Metadata()
		if err != nil {
			// 无法确认的消息交还服务端重投
			_ = m.Nak()
			continue
		}
		receipt := strconv.FormatUint(md.Sequence.Stream, 10)
		q.inflight.Store(receipt, m)
		out = append(out, Delivery{
			Message:      fromHeaders(receipt, m.Data(), m.Headers()),
			Receipt:      receipt,
			ReceiveCount: int(md.NumDelivered),
		})
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && len(out) == 0 {
		return nil, fmt.Errorf("jetstream fetch: %w", err)
	}
	return out, nil
}

func fromHeaders(id string, payload []byte, h nats.Header) Message {
	msg := Message{ID: id, Key: h.Get(headerKey), Payload: payload}
	for k, v := range h {
		if name, ok := strings.CutPrefix(k, headerMetaPrefix); ok && len(v) > 0 {
			if msg.Metadata == nil {
				msg.Metadata = make(map[string]string)
			}
			msg.Metadata[name] = v[0]
		}
	}
	return msg
}

func (q *JetStreamQueue) Delete(ctx context.Context, receipt string) error {
	if m, ok := q.inflight.LoadAndDelete(receipt); ok {
		if err := m.DoubleAck(ctx); err != nil {
			return fmt.Errorf("jetstream ack: %w", err)
		}
		return nil
	}

	// 进程重启后丢失了 Msg 句柄，直接按序号删除
	seq, err := strconv.ParseUint(receipt, 10, 64)
	if err != nil {
		return ErrUnknownReceipt
	}
	if err := q.stream.DeleteMsg(ctx, seq); err != nil {
		return fmt.Errorf("jetstream delete: %w", err)
	}
	return nil
}

func (q *JetStreamQueue) Close() error {
	return nil
}
