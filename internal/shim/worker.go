package shim

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-shims/internal/device"
)

// DefaultPollInterval is how long the worker sleeps between drain cycles.
const DefaultPollInterval = 100 * time.Millisecond

// DeviceLister finds the devices consuming a message type.
type DeviceLister interface {
	ListByMessageType(ctx context.Context, messageType string) ([]device.Device, error)
}

// Worker feeds queued messages to the dispatcher on a single goroutine.
//
// Enqueue is the only method safe to call from other goroutines; it is
// wired to the connector's message callbacks.
type Worker struct {
	dispatcher *Dispatcher
	devices    DeviceLister
	fetcher    Fetcher
	interval   time.Duration
	logger     Logger

	mu      sync.Mutex
	pending []Notification

	// dispatchMu keeps decoder instances single-threaded.
	dispatchMu sync.Mutex

	onResult func(Message, Result)
}

// NewWorker creates a worker. A non-positive interval uses
// DefaultPollInterval.
func NewWorker(dispatcher *Dispatcher, devices DeviceLister, fetcher Fetcher, interval time.Duration, logger Logger) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Worker{
		dispatcher: dispatcher,
		devices:    devices,
		fetcher:    fetcher,
		interval:   interval,
		logger:     logger,
	}
}

// OnResult registers fn to receive every dispatch result. It must be set
// before Run.
func (w *Worker) OnResult(fn func(Message, Result)) {
	w.onResult = fn
}

// Enqueue records that a message of n.MessageType is waiting.
func (w *Worker) Enqueue(n Notification) {
	w.mu.Lock()
	w.pending = append(w.pending, n)
	w.mu.Unlock()
}

// Pending returns the number of notifications not yet processed.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Worker) next() (Notification, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return Notification{}, false
	}
	n := w.pending[0]
	w.pending[0] = Notification{}
	w.pending = w.pending[1:]
	return n, true
}

// Run processes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("shim worker started", "poll_interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.ProcessMessages(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("shim worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessMessages drains the notification queue. For each notification
// whose type some device wants, it fetches queued messages of that type
// until none remain and offers each one to every device of the type.
// Messages of a type no device wants are fetched and dropped. It returns
// the number of messages processed.
func (w *Worker) ProcessMessages(ctx context.Context) int {
	processed := 0
	for {
		n, ok := w.next()
		if !ok {
			return processed
		}

		devices, err := w.devices.ListByMessageType(ctx, n.MessageType)
		if err != nil {
			w.logger.Error("listing devices failed", "message_type", n.MessageType, "error", err)
			continue
		}
		if len(devices) == 0 {
			w.logger.Debug("message type not wanted, queue discarded",
				"message_type", n.MessageType, "discarded", w.discard(n.MessageType))
			continue
		}

		for {
			msg, ok := w.fetcher.FetchQueued(n.MessageType)
			if !ok {
				break
			}
			processed++
			w.dispatch(ctx, devices, msg)
		}
	}
}

func (w *Worker) discard(messageType string) int {
	n := 0
	for {
		if _, ok := w.fetcher.FetchQueued(messageType); !ok {
			return n
		}
		n++
	}
}

// Inject runs msg through the pipeline for dev alone. It is serialised with
// the worker loop, so it is safe to call from API handlers.
func (w *Worker) Inject(ctx context.Context, dev *device.Device, msg Message) Result {
	w.dispatchMu.Lock()
	defer w.dispatchMu.Unlock()
	return w.update(ctx, dev, msg)
}

func (w *Worker) dispatch(ctx context.Context, devices []device.Device, msg Message) {
	w.dispatchMu.Lock()
	defer w.dispatchMu.Unlock()

	for i := range devices {
		w.update(ctx, &devices[i], msg)
	}
}

func (w *Worker) update(ctx context.Context, dev *device.Device, msg Message) Result {
	w.logger.Debug("processing message", "device", dev.Name, "message_type", msg.MessageType,
		"topic", strings.Join(msg.TopicParts, "/"), "payload", msg.Payload)

	res := w.dispatcher.Update(ctx, dev, msg.TopicParts, msg.Payload)
	if w.onResult != nil {
		w.onResult(msg, res)
	}
	return res
}
