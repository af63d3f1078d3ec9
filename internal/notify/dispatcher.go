package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrQueueFull = errors.New("notification queue is full")

// Message is a verification link addressed to a user.
type Message struct {
	Email     string    `json:"email"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher delivers messages in the background on a fixed pool of workers.
type Dispatcher interface {
	Start(ctx context.Context) error
	Shutdown()
	// Enqueue queues msg without blocking. It fails when the queue is full or the
	// dispatcher has been shut down.
	Enqueue(msg Message) error
	NotifyVerification(email, link string)
}

type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	Logger      *logrus.Logger
}

type dispatcher struct {
	cfg    Config
	sender Sender
	queue  chan Message

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(cfg Config, sender Sender) Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &dispatcher{
		cfg:    cfg,
		sender: sender,
		queue:  make(chan Message, cfg.QueueSize),
	}
}

func (d *dispatcher) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.cfg.Logger.Infof("notification dispatcher started, workers: %d", d.cfg.Workers)
	return nil
}

// Shutdown stops accepting messages, delivers what is already queued and
// waits for the workers to exit.
func (d *dispatcher) Shutdown() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
	d.cfg.Logger.Info("notification dispatcher stopped")
}

func (d *dispatcher) Enqueue(msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("notification dispatcher is shut down")
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// NotifyVerification queues a verification link. Failures are logged and dropped.
func (d *dispatcher) NotifyVerification(email, link string) {
	if err := d.Enqueue(Message{Email: email, Link: link}); err != nil {
		d.cfg.Logger.WithField("email", email).Warnf("verification link dropped: %v", err)
	}
}

func (d *dispatcher) worker(id int) {
	defer d.wg.Done()
	logger := d.cfg.Logger.WithField("worker", id)
	for msg := range d.queue {
		d.deliver(logger, msg)
	}
}

func (d *dispatcher) deliver(logger *logrus.Entry, msg Message) {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, msg); err != nil {
		logger.WithField("email", msg.Email).Errorf("send verification link failed: %v", err)
		return
	}
	logger.WithField("email", msg.Email).Debug("verification link sent")
}
