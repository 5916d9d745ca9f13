package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jfeld/orderdesk/pkg/models"
)

// DefaultInterval is the reference polling interval.
const DefaultInterval = 5 * time.Second

// Poller owns one polling session per open conversation, keyed by
// order id.
type Poller struct {
	client   *Client
	interval time.Duration
	logger   *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewPoller(client *Client, interval time.Duration, logger *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		client:   client,
		interval: interval,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open starts polling the order's conversation and returns the session
// handle. Closing the handle is mandatory when the view closes; an
// already-open session for the same order is reused.
func (p *Poller) Open(orderID string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[orderID]; ok {
		return s
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		orderID: orderID,
		poller:  p,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	p.sessions[orderID] = s
	go s.run(ctx, p.client, p.interval, p.logger)
	return s
}

func (p *Poller) forget(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, orderID)
}

// Session is the cancellable polling task for one open conversation.
// It tracks the highest message seq already rendered (the high
// watermark) and replaces its view only when the server log has grown
// past it, so an idle poll never disturbs a reading user.
type Session struct {
	orderID string
	poller  *Poller
	cancel  context.CancelFunc
	done    chan struct{}

	mu            sync.RWMutex
	order         *models.Order
	messages      []models.Message
	highWatermark int64
	replacements  int64
}

func (s *Session) run(ctx context.Context, client *Client, interval time.Duration, logger *logrus.Logger) {
	defer close(s.done)

	// Initial fetch so the view is populated before the first tick.
	s.poll(ctx, client, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, client, logger)
		}
	}
}

func (s *Session) poll(ctx context.Context, client *Client, logger *logrus.Logger) {
	order, err := client.GetOrder(ctx, s.orderID)
	if err != nil {
		if ctx.Err() == nil {
			logger.WithError(err).WithField("order_id", s.orderID).
				Warn("Poll failed, retrying next cycle")
		}
		return
	}
	messages, err := client.ListMessages(ctx, s.orderID)
	if err != nil {
		if ctx.Err() == nil {
			logger.WithError(err).WithField("order_id", s.orderID).
				Warn("Poll failed, retrying next cycle")
		}
		return
	}

	// The session may have been closed while the request was in
	// flight; the result is discarded, never merged.
	if ctx.Err() != nil {
		return
	}
	s.merge(order, messages)
}

// merge is the single write path for the session's view. The message
// list is replaced only when the server tail has moved past the high
// watermark; the order is replaced only when updated_at moved. Clients
// never reorder locally: the server list is taken as-is.
func (s *Session) merge(order *models.Order, messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.order == nil || order.UpdatedAt.After(s.order.UpdatedAt) {
		s.order = order
	}

	var tail int64
	if len(messages) > 0 {
		tail = messages[len(messages)-1].Seq
	}
	// The log is append-only, so a tail at or behind the watermark is
	// either an idle cycle or a stale in-flight read. Neither replaces
	// the view.
	if tail <= s.highWatermark {
		return
	}
	s.messages = messages
	s.highWatermark = tail
	s.replacements++
}

// Send posts a message and, after the server acknowledges it, appends
// the stored message to the local view and advances the watermark so
// the next poll does not reprocess it. Nothing is shown speculatively
// before the acknowledgement.
func (s *Session) Send(ctx context.Context, senderID string, role models.Role, body string) (*models.Message, error) {
	msg, err := s.poller.client.SendMessage(ctx, s.orderID, senderID, role, body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Seq > s.highWatermark {
		s.messages = append(s.messages, *msg)
		s.highWatermark = msg.Seq
		s.replacements++
	}
	return msg, nil
}

// Snapshot returns the current unified view.
func (s *Session) Snapshot() (*models.Order, []models.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	var order *models.Order
	if s.order != nil {
		cp := *s.order
		order = &cp
	}
	return order, out
}

// HighWatermark returns the highest message seq the view has rendered.
func (s *Session) HighWatermark() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highWatermark
}

// Replacements counts how many times the view was replaced; an idle
// poll cycle must not increase it.
func (s *Session) Replacements() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replacements
}

// Close tears the poll timer down immediately and waits for the loop
// to exit. An in-flight request is allowed to complete but its result
// is discarded.
func (s *Session) Close() {
	s.cancel()
	<-s.done
	s.poller.forget(s.orderID)
}
