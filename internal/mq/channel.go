package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel — подмножество методов *amqp.Channel, которое использует пайплайн.
//
// *amqp.Channel реализует его напрямую; в тестах подставляется
// in-memory брокер из пакета mqtest.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// BrokerConn — подмножество методов *amqp.Connection.
type BrokerConn interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Dialer открывает соединение с брокером по URL.
type Dialer func(url string) (BrokerConn, error)

// AMQPDialer — Dialer поверх amqp091-go.
func AMQPDialer(url string) (BrokerConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConn{Connection: conn}, nil
}

// amqpConn адаптирует *amqp.Connection к BrokerConn.
type amqpConn struct {
	*amqp.Connection
}

// Channel открывает новый AMQP канал.
func (c amqpConn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}
