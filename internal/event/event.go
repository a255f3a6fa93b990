// Package event は予約の作成・取り消しをメッセージブローカーへ通知する。
// 通知の失敗は呼び出し側でログに記録するのみで、予約処理自体は失敗させない。
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hitoshi/nmrsched/internal/model"
)

// イベント種別
const (
	TypeReservationCreated   = "reservation.created"
	TypeReservationCancelled = "reservation.cancelled"
)

// Event はブローカーへ送るメッセージ本体。
type Event struct {
	Type        string             `json:"type"`
	Reservation *model.Reservation `json:"reservation"`
	ActorID     string             `json:"actorId"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

// Publisher はイベント送信のインターフェース。
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// channel はPublisherが使うamqp.Channelの操作。
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher はRabbitMQのデフォルトexchange経由で永続キューへJSONを送る。
// amqp.Channelは並行Publishに対応しないため、送信はmuで直列化する。
type AMQPPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    channel
	queue string
}

// NewAMQPPublisher はブローカーに接続し、durableキューを宣言する。
func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// newPublisherWithChannel は接続済みチャネルからPublisherを組み立てる。
func newPublisherWithChannel(ch channel, queue string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, queue: queue}
}

// Publish はイベントをpersistentメッセージとして送信する。
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt.UTC(),
		Type:         e.Type,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close はチャネルと接続を閉じる。
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if p.ch != nil {
		firstErr = p.ch.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Noop はイベントを送信しないPublisher。ブローカー未設定時に使う。
type Noop struct{}

// Publish は何もしない。
func (Noop) Publish(context.Context, Event) error { return nil }

// compile-time interface check
var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = Noop{}
)
