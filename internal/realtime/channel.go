package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/taskboard/project/internal/contracts"
	"github.com/taskboard/project/internal/messaging"
	"github.com/taskboard/project/internal/platform/natsutil"
)

var ErrChannelClosed = errors.New("channel closed")

type Handler func(contracts.Event)

type Unsubscribe func() error

// SubscribeFunc delivers raw payloads published to one subject until the
// returned Unsubscribe is called.
type SubscribeFunc func(subject string, deliver func(payload []byte)) (Unsubscribe, error)

const queueDepth = 256

// Channel is the client side of the push transport. Every handler runs on a
// single dispatch goroutine, so handlers never race each other; transport
// callbacks only enqueue.
type Channel struct {
	mu        sync.Mutex
	subscribe SubscribeFunc
	handlers  map[string]Handler
	userID    string
	userSub   Unsubscribe
	taskID    string
	taskSub   Unsubscribe
	stopped   bool

	queue chan contracts.Event
	done  chan struct{}

	closedOnce sync.Once
	closedCh   chan struct{}

	conn *nats.Conn
}

// New builds a channel over an injected transport. Used directly in tests;
// production code goes through Dial.
func New(subscribe SubscribeFunc) *Channel {
	c := &Channel{
		subscribe: subscribe,
		handlers:  map[string]Handler{},
		queue:     make(chan contracts.Event, queueDepth),
		done:      make(chan struct{}),
		closedCh:  make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Dial connects to the broker with bounded reconnects (5 attempts, 1s apart).
// When the transport gives up, Closed() fires and the channel stays silent.
func Dial(url string) (*Channel, error) {
	c := New(nil)
	conn, err := natsutil.DialCore(url, c.notifyClosed)
	if err != nil {
		close(c.done)
		return nil, err
	}
	c.conn = conn
	c.subscribe = func(subject string, deliver func([]byte)) (Unsubscribe, error) {
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			deliver(msg.Data)
		})
		if err != nil {
			return nil, err
		}
		return sub.Unsubscribe, nil
	}
	return c, nil
}

// On registers the handler for one event name. A second registration for the
// same name replaces the first.
func (c *Channel) On(event string, fn Handler) {
	c.mu.Lock()
	c.handlers[event] = fn
	c.mu.Unlock()
}

// Connect joins the user scope. Calling it again with the same user is a
// no-op; a different user replaces the subscription.
func (c *Channel) Connect(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrChannelClosed
	}
	if c.userSub != nil {
		if c.userID == userID {
			return nil
		}
		_ = c.userSub()
		c.userSub = nil
	}
	sub, err := c.subscribe(messaging.UserEventWildcard(userID), c.enqueue)
	if err != nil {
		return err
	}
	c.userID = userID
	c.userSub = sub
	return nil
}

// JoinTask subscribes to one task's comment scope. Any previous task scope is
// left synchronously first, so no event from the old task can arrive after
// the switch.
func (c *Channel) JoinTask(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrChannelClosed
	}
	if c.taskSub != nil {
		if c.taskID == taskID {
			return nil
		}
		_ = c.taskSub()
		c.taskSub = nil
		c.taskID = ""
	}
	sub, err := c.subscribe(messaging.TaskEventWildcard(taskID), c.enqueue)
	if err != nil {
		return err
	}
	c.taskID = taskID
	c.taskSub = sub
	return nil
}

// LeaveTask drops the task scope if it matches. Leaving a task that is not
// joined is a no-op.
func (c *Channel) LeaveTask(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taskSub == nil || c.taskID != taskID {
		return nil
	}
	err := c.taskSub()
	c.taskSub = nil
	c.taskID = ""
	return err
}

// Closed fires once when the transport has exhausted its reconnect attempts
// or Close was called.
func (c *Channel) Closed() <-chan struct{} {
	return c.closedCh
}

func (c *Channel) Close() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.userSub != nil {
		_ = c.userSub()
		c.userSub = nil
	}
	if c.taskSub != nil {
		_ = c.taskSub()
		c.taskSub = nil
	}
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		_ = conn.Drain()
		conn.Close()
	}
	c.notifyClosed()
}

func (c *Channel) notifyClosed() {
	c.closedOnce.Do(func() { close(c.closedCh) })
}

// enqueue runs on the transport's goroutine; it must never block, so a full
// queue drops the event rather than stalling the connection.
func (c *Channel) enqueue(payload []byte) {
	var event contracts.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}
	select {
	case c.queue <- event:
	case <-c.done:
	default:
	}
}

func (c *Channel) dispatch() {
	for {
		select {
		case event := <-c.queue:
			c.mu.Lock()
			fn := c.handlers[event.Name]
			c.mu.Unlock()
			if fn != nil {
				fn(event)
			}
		case <-c.done:
			return
		}
	}
}
