// Package mqtest — in-memory брокер для тестов пакетов, работающих с mq.
//
// Модель повторяет то, на что опирается пайплайн:
//   - default exchange, routing key = имя очереди
//   - durable очереди и persistent сообщения переживают Restart
//   - ручной ack/nack, requeue, dead-lettering по x-dead-letter-routing-key
//   - prefetch (Qos) на канал
//   - повторное объявление очереди с другими параметрами закрывает канал
//     с PRECONDITION_FAILED, как настоящий RabbitMQ
package mqtest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/taskpipe/internal/mq"
)

// ErrInjected — ошибка, которую возвращает публикация после FailPublishes.
var ErrInjected = errors.New("mqtest: injected publish failure")

// ErrRefused — ошибка Dial, пока брокер недоступен.
var ErrRefused = errors.New("mqtest: connection refused")

// Message — сообщение в очереди.
type Message struct {
	Queue       string
	Publishing  amqp.Publishing
	Redelivered bool
}

// Persistent сообщает, опубликовано ли сообщение с DeliveryMode=Persistent.
func (m Message) Persistent() bool {
	return m.Publishing.DeliveryMode == amqp.Persistent
}

// QueueInfo — снимок состояния очереди.
type QueueInfo struct {
	Name      string
	Durable   bool
	Args      amqp.Table
	Ready     int
	Consumers int
}

// Broker — in-memory брокер.
type Broker struct {
	mu sync.Mutex

	queues map[string]*queue
	conns  map[*Conn]struct{}

	down         bool
	dialFailures int
	dials        int

	publishFailures map[string]int
	publishErrs     map[string]error

	nextTag     uint64
	declares    map[string]int
	acked       map[string]int
	requeued    map[string]int
	rejected    map[string]int
	unknownTags int
	unroutable  int
	dropped     []Message
}

type queue struct {
	name      string
	durable   bool
	args      amqp.Table
	ready     []Message
	consumers []*consumer
	next      int
}

type consumer struct {
	ch    *Channel
	queue string
	tag   string
	out   chan amqp.Delivery
}

type pending struct {
	tag uint64
	msg Message
}

// NewBroker создаёт пустой работающий брокер.
func NewBroker() *Broker {
	return &Broker{
		queues:          make(map[string]*queue),
		conns:           make(map[*Conn]struct{}),
		publishFailures: make(map[string]int),
		publishErrs:     make(map[string]error),
		declares:        make(map[string]int),
		acked:           make(map[string]int),
		requeued:        make(map[string]int),
		rejected:        make(map[string]int),
	}
}

// Dial реализует mq.Dialer.
func (b *Broker) Dial(_ string) (mq.BrokerConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.down {
		return nil, ErrRefused
	}
	if b.dialFailures > 0 {
		b.dialFailures--
		return nil, ErrRefused
	}

	c := &Conn{b: b}
	b.conns[c] = struct{}{}
	return c, nil
}

// SetDown делает брокер недоступным (true) или снова доступным (false).
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// FailDials заставляет следующие n вызовов Dial вернуть ошибку.
func (b *Broker) FailDials(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialFailures = n
}

// FailPublishes заставляет следующие n публикаций в очередь вернуть ErrInjected.
func (b *Broker) FailPublishes(queue string, n int) {
	b.FailPublishesWith(queue, n, ErrInjected)
}

// FailPublishesWith заставляет следующие n публикаций в очередь вернуть err.
func (b *Broker) FailPublishesWith(queue string, n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishFailures[queue] = n
	b.publishErrs[queue] = err
}

// Restart имитирует рестарт брокера: все соединения обрываются,
// non-durable очереди и non-persistent сообщения теряются.
func (b *Broker) Restart() {
	b.mu.Lock()
	defer b.mu.Unlock()

	reason := &amqp.Error{
		Code:    amqp.ConnectionForced,
		Reason:  "CONNECTION_FORCED - broker forced connection closure with reason 'shutdown'",
		Server:  true,
		Recover: true,
	}
	for c := range b.conns {
		b.closeConnLocked(c, reason)
	}

	for name, q := range b.queues {
		if !q.durable {
			delete(b.queues, name)
			continue
		}

		kept := q.ready[:0]
		for _, m := range q.ready {
			if m.Persistent() {
				kept = append(kept, m)
			}
		}
		q.ready = kept
	}
}

// Inject кладёт сообщение прямо в очередь (минуя producer).
func (b *Broker) Inject(queueName string, body []byte, persistent bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}

	q, ok := b.queues[queueName]
	if !ok {
		b.unroutable++
		return
	}

	q.ready = append(q.ready, Message{
		Queue: queueName,
		Publishing: amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: mode,
			Body:         append([]byte(nil), body...),
		},
	})
	b.dispatchLocked(q)
}

// Queue возвращает снимок очереди.
func (b *Broker) Queue(name string) (QueueInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return QueueInfo{}, false
	}

	return QueueInfo{
		Name:      q.name,
		Durable:   q.durable,
		Args:      q.args,
		Ready:     len(q.ready),
		Consumers: len(q.consumers),
	}, true
}

// Messages возвращает копию сообщений, ожидающих доставки.
func (b *Broker) Messages(name string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	return append([]Message(nil), q.ready...)
}

// Unacked возвращает количество доставленных, но не подтверждённых сообщений очереди.
func (b *Broker) Unacked(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for c := range b.conns {
		for _, ch := range c.channels {
			for _, p := range ch.unacked {
				if p.Queue == name {
					n++
				}
			}
		}
	}
	return n
}

// Acked возвращает количество ack по очереди.
func (b *Broker) Acked(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked[name]
}

// Requeued возвращает количество nack с requeue по очереди.
func (b *Broker) Requeued(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requeued[name]
}

// Rejected возвращает количество nack без requeue по очереди.
func (b *Broker) Rejected(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected[name]
}

// Dropped возвращает сообщения, отброшенные брокером после nack без requeue.
func (b *Broker) Dropped() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.dropped...)
}

// UnknownTags — сколько раз подтверждали уже разрешённую доставку.
func (b *Broker) UnknownTags() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unknownTags
}

// Dials возвращает количество вызовов Dial.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Declares возвращает количество успешных объявлений очереди.
func (b *Broker) Declares(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.declares[name]
}

// dispatchLocked раздаёт готовые сообщения consumer'ам по кругу с учётом prefetch.
func (b *Broker) dispatchLocked(q *queue) {
	for len(q.ready) > 0 && len(q.consumers) > 0 {
		progressed := false

		for i := 0; i < len(q.consumers) && len(q.ready) > 0; i++ {
			cons := q.consumers[(q.next+i)%len(q.consumers)]
			ch := cons.ch
			if ch.prefetch > 0 && len(ch.unacked) >= ch.prefetch {
				continue
			}

			msg := q.ready[0]
			b.nextTag++
			tag := b.nextTag

			d := amqp.Delivery{
				Acknowledger: ch,
				ConsumerTag:  cons.tag,
				DeliveryTag:  tag,
				Redelivered:  msg.Redelivered,
				RoutingKey:   q.name,
				Headers:      msg.Publishing.Headers,
				ContentType:  msg.Publishing.ContentType,
				DeliveryMode: msg.Publishing.DeliveryMode,
				MessageId:    msg.Publishing.MessageId,
				Timestamp:    msg.Publishing.Timestamp,
				Type:         msg.Publishing.Type,
				Body:         msg.Publishing.Body,
			}

			select {
			case cons.out <- d:
			default:
				continue
			}

			q.ready = q.ready[1:]
			ch.unacked[tag] = msg
			progressed = true
		}

		q.next++
		if !progressed {
			return
		}
	}
}

// settleLocked снимает доставку с канала. ok=false — тег неизвестен.
func (b *Broker) settleLocked(ch *Channel, tag uint64) (Message, bool) {
	msg, ok := ch.unacked[tag]
	if !ok {
		b.unknownTags++
		return Message{}, false
	}
	delete(ch.unacked, tag)
	return msg, true
}

// requeueLocked возвращает сообщение в голову очереди.
func (b *Broker) requeueLocked(msg Message) {
	q, ok := b.queues[msg.Queue]
	if !ok {
		return
	}
	msg.Redelivered = true
	q.ready = append([]Message{msg}, q.ready...)
}

// deadLetterLocked отбрасывает сообщение или перекладывает его в DLQ.
func (b *Broker) deadLetterLocked(msg Message) {
	if q, ok := b.queues[msg.Queue]; ok {
		if key, ok := q.args["x-dead-letter-routing-key"].(string); ok {
			if dlq, ok := b.queues[key]; ok {
				msg.Queue = key
				msg.Redelivered = false
				dlq.ready = append(dlq.ready, msg)
				b.dispatchLocked(dlq)
				return
			}
		}
	}
	b.dropped = append(b.dropped, msg)
}

func (b *Broker) closeChannelLocked(ch *Channel, reason *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true

	for _, cons := range ch.consumers {
		if q, ok := b.queues[cons.queue]; ok {
			q.removeConsumer(cons)
		}
		close(cons.out)
	}
	ch.consumers = nil

	// Неподтверждённые сообщения возвращаются в очередь в исходном порядке
	returned := make([]pending, 0, len(ch.unacked))
	for tag, msg := range ch.unacked {
		returned = append(returned, pending{tag: tag, msg: msg})
	}
	sort.Slice(returned, func(i, j int) bool { return returned[i].tag > returned[j].tag })
	touched := make(map[string]*queue)
	for _, p := range returned {
		b.requeueLocked(p.msg)
		if q, ok := b.queues[p.msg.Queue]; ok {
			touched[q.name] = q
		}
	}
	ch.unacked = map[uint64]Message{}

	fire(ch.notify, reason)
	ch.notify = nil

	for _, q := range touched {
		b.dispatchLocked(q)
	}
}

func (b *Broker) closeConnLocked(c *Conn, reason *amqp.Error) {
	if c.closed {
		return
	}
	c.closed = true

	for _, ch := range c.channels {
		b.closeChannelLocked(ch, reason)
	}
	c.channels = nil

	fire(c.notify, reason)
	c.notify = nil

	delete(b.conns, c)
}

// fire повторяет семантику amqp091: ошибка (если есть) и закрытие канала.
func fire(receivers []chan *amqp.Error, reason *amqp.Error) {
	for _, r := range receivers {
		if reason != nil {
			select {
			case r <- reason:
			default:
			}
		}
		close(r)
	}
}

func (q *queue) removeConsumer(cons *consumer) {
	for i, c := range q.consumers {
		if c == cons {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			return
		}
	}
}

// Conn — соединение с in-memory брокером. Реализует mq.BrokerConn.
type Conn struct {
	b        *Broker
	closed   bool
	notify   []chan *amqp.Error
	channels []*Channel
}

// Channel открывает канал.
func (c *Conn) Channel() (mq.Channel, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}

	ch := &Channel{
		b:       c.b,
		unacked: make(map[uint64]Message),
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

// NotifyClose регистрирует получателя ошибки закрытия соединения.
func (c *Conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

// IsClosed сообщает, закрыто ли соединение.
func (c *Conn) IsClosed() bool {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.closed
}

// Close закрывает соединение со стороны клиента.
func (c *Conn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	c.b.closeConnLocked(c, nil)
	return nil
}

// Channel — канал in-memory брокера. Реализует mq.Channel и amqp.Acknowledger.
type Channel struct {
	b        *Broker
	closed   bool
	prefetch int
	notify   []chan *amqp.Error

	consumers []*consumer
	unacked   map[uint64]Message
}

// Qos задаёт prefetch канала.
func (ch *Channel) Qos(prefetchCount, _ int, _ bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

// QueueDeclare объявляет очередь.
func (ch *Channel) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}

	q, ok := b.queues[name]
	if ok {
		if q.durable != durable || !argsEqual(q.args, args) {
			err := &amqp.Error{
				Code:   amqp.PreconditionFailed,
				Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for queue '%s' in vhost '/'", name),
				Server: true,
			}
			b.closeChannelLocked(ch, err)
			return amqp.Queue{}, err
		}
	} else {
		q = &queue{name: name, durable: durable, args: args}
		b.queues[name] = q
	}

	b.declares[name]++

	return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

// PublishWithContext публикует сообщение через default exchange.
func (ch *Channel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}

	if exchange != "" {
		return fmt.Errorf("mqtest: only the default exchange is supported, got %q", exchange)
	}

	if n := b.publishFailures[key]; n > 0 {
		b.publishFailures[key] = n - 1
		return b.publishErrs[key]
	}

	q, ok := b.queues[key]
	if !ok {
		b.unroutable++
		return nil
	}

	msg.Body = append([]byte(nil), msg.Body...)
	q.ready = append(q.ready, Message{Queue: key, Publishing: msg})
	b.dispatchLocked(q)

	return nil
}

// Consume подписывается на очередь. Поддерживается только ручной ack.
func (ch *Channel) Consume(queueName, consumerTag string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if autoAck {
		return nil, fmt.Errorf("mqtest: auto-ack is not supported")
	}

	q, ok := b.queues[queueName]
	if !ok {
		err := &amqp.Error{
			Code:   amqp.NotFound,
			Reason: fmt.Sprintf("NOT_FOUND - no queue '%s' in vhost '/'", queueName),
			Server: true,
		}
		b.closeChannelLocked(ch, err)
		return nil, err
	}

	if consumerTag == "" {
		consumerTag = fmt.Sprintf("ctag-%d", len(ch.consumers)+1)
	}

	cons := &consumer{ch: ch, queue: queueName, tag: consumerTag, out: make(chan amqp.Delivery, 256)}
	q.consumers = append(q.consumers, cons)
	ch.consumers = append(ch.consumers, cons)
	b.dispatchLocked(q)

	return cons.out, nil
}

// NotifyClose регистрирует получателя ошибки закрытия канала.
func (ch *Channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()

	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notify = append(ch.notify, receiver)
	return receiver
}

// Close закрывает канал со стороны клиента.
func (ch *Channel) Close() error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()

	if ch.closed {
		return nil
	}
	ch.b.closeChannelLocked(ch, nil)
	return nil
}

// Ack подтверждает доставку.
func (ch *Channel) Ack(tag uint64, _ bool) error {
	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}

	msg, ok := b.settleLocked(ch, tag)
	if !ok {
		return ch.unknownTagLocked(tag)
	}

	b.acked[msg.Queue]++
	if q, ok := b.queues[msg.Queue]; ok {
		b.dispatchLocked(q)
	}
	return nil
}

// Nack отклоняет доставку.
func (ch *Channel) Nack(tag uint64, _ bool, requeue bool) error {
	b := ch.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}

	msg, ok := b.settleLocked(ch, tag)
	if !ok {
		return ch.unknownTagLocked(tag)
	}

	if requeue {
		b.requeued[msg.Queue]++
		b.requeueLocked(msg)
	} else {
		b.rejected[msg.Queue]++
		b.deadLetterLocked(msg)
	}

	if q, ok := b.queues[msg.Queue]; ok {
		b.dispatchLocked(q)
	}
	return nil
}

// Reject отклоняет доставку.
func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.Nack(tag, false, requeue)
}

// unknownTagLocked — повторное подтверждение закрывает канал, как в RabbitMQ.
func (ch *Channel) unknownTagLocked(tag uint64) error {
	err := &amqp.Error{
		Code:   amqp.PreconditionFailed,
		Reason: fmt.Sprintf("PRECONDITION_FAILED - unknown delivery tag %d", tag),
		Server: true,
	}
	ch.b.closeChannelLocked(ch, err)
	return err
}

func argsEqual(a, b amqp.Table) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
