package syncclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfeld/orderdesk/internal/conversation"
	"github.com/jfeld/orderdesk/internal/handshake"
	"github.com/jfeld/orderdesk/internal/lifecycle"
	"github.com/jfeld/orderdesk/internal/notify"
	"github.com/jfeld/orderdesk/internal/server"
	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/internal/store/memory"
	"github.com/jfeld/orderdesk/internal/syncclient"
	"github.com/jfeld/orderdesk/pkg/models"
)

type testEnv struct {
	ts            *httptest.Server
	lifecycle     *lifecycle.Service
	conversations *conversation.Service
	client        *syncclient.Client
	poller        *syncclient.Poller
	order         *models.Order
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	orders := memory.NewOrderStore()
	messages := memory.NewMessageStore()
	queue := memory.NewNotificationQueue()

	conversations := conversation.NewService(orders, messages, logger)
	generator := notify.NewGenerator(conversations, queue, nil, logger)
	lc := lifecycle.NewService(orders, generator, logger)
	hs := handshake.NewService(orders, conversations, lc, logger)

	handler := server.NewHandler(lc, conversations, hs, logger)
	ts := httptest.NewServer(handler.Router())
	t.Cleanup(ts.Close)

	client := syncclient.NewClient(ts.URL, 2*time.Second, logger)
	poller := syncclient.NewPoller(client, 30*time.Millisecond, logger)

	o, err := lc.Create(context.Background(), lifecycle.CreateRequest{
		RequesterID: "req-1",
		FulfillerID: "ful-1",
		Items:       []models.LineItem{{Name: "custom portrait", UnitPrice: 42.50}},
	})
	require.NoError(t, err)

	return &testEnv{
		ts:            ts,
		lifecycle:     lc,
		conversations: conversations,
		client:        client,
		poller:        poller,
		order:         o,
	}
}

func (e *testEnv) appendServerSide(t *testing.T, body string) {
	t.Helper()
	_, err := e.conversations.Append(context.Background(), conversation.AppendRequest{
		OrderID:    e.order.ID,
		SenderID:   "ful-1",
		SenderRole: models.RoleFulfiller,
		Type:       models.MessageText,
		Body:       body,
	})
	require.NoError(t, err)
}

func TestSessionPicksUpNewMessages(t *testing.T) {
	e := newEnv(t)
	e.appendServerSide(t, "first")

	session := e.poller.Open(e.order.ID)
	defer session.Close()

	require.Eventually(t, func() bool {
		return session.HighWatermark() > 0
	}, 2*time.Second, 10*time.Millisecond)

	order, msgs := session.Snapshot()
	require.NotNil(t, order)
	assert.Equal(t, e.order.ID, order.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Body)

	e.appendServerSide(t, "second")
	require.Eventually(t, func() bool {
		_, msgs := session.Snapshot()
		return len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, msgs = session.Snapshot()
	assert.Equal(t, "second", msgs[1].Body)
	assert.Equal(t, msgs[1].Seq, session.HighWatermark())
}

// Polling with no new server-side messages must not replace the local
// view: an idle cycle leaves both the view and the watermark untouched.
func TestIdlePollsDoNotReplaceView(t *testing.T) {
	e := newEnv(t)
	e.appendServerSide(t, "only one")

	session := e.poller.Open(e.order.ID)
	defer session.Close()

	require.Eventually(t, func() bool {
		return session.HighWatermark() > 0
	}, 2*time.Second, 10*time.Millisecond)

	watermark := session.HighWatermark()
	replacements := session.Replacements()

	// Several poll cycles with a quiet server.
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, watermark, session.HighWatermark())
	assert.Equal(t, replacements, session.Replacements(), "idle polls must not rebuild the view")
}

func TestSessionTracksStatusChanges(t *testing.T) {
	e := newEnv(t)
	session := e.poller.Open(e.order.ID)
	defer session.Close()

	_, err := e.lifecycle.Transition(context.Background(), e.order.ID, models.StatusAccepted, models.RoleFulfiller)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		order, _ := session.Snapshot()
		return order != nil && order.Status == models.StatusAccepted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendAdvancesWatermark(t *testing.T) {
	e := newEnv(t)
	session := e.poller.Open(e.order.ID)
	defer session.Close()

	require.Eventually(t, func() bool {
		order, _ := session.Snapshot()
		return order != nil
	}, 2*time.Second, 10*time.Millisecond)

	msg, err := session.Send(context.Background(), "req-1", models.RoleRequester, "hello")
	require.NoError(t, err)
	require.NotNil(t, msg)

	// The acknowledged message is visible immediately, without waiting
	// for the next poll, and the watermark covers it.
	_, msgs := session.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, msg.Seq, session.HighWatermark())

	// The next polls must not treat the own message as new.
	replacements := session.Replacements()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, replacements, session.Replacements())
}

func TestSendValidationError(t *testing.T) {
	e := newEnv(t)
	session := e.poller.Open(e.order.ID)
	defer session.Close()

	_, err := session.Send(context.Background(), "req-1", models.RoleRequester, "")
	assert.ErrorIs(t, err, store.ErrValidation)
	assert.Zero(t, session.HighWatermark())
}

func TestCloseStopsPolling(t *testing.T) {
	e := newEnv(t)
	session := e.poller.Open(e.order.ID)

	require.Eventually(t, func() bool {
		order, _ := session.Snapshot()
		return order != nil
	}, 2*time.Second, 10*time.Millisecond)

	session.Close()

	// New server-side data after close never reaches the dead session.
	e.appendServerSide(t, "after close")
	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, session.HighWatermark())

	// Reopening builds a fresh session that does see it.
	fresh := e.poller.Open(e.order.ID)
	defer fresh.Close()
	require.Eventually(t, func() bool {
		return fresh.HighWatermark() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpenReusesSession(t *testing.T) {
	e := newEnv(t)
	a := e.poller.Open(e.order.ID)
	b := e.poller.Open(e.order.ID)
	assert.Same(t, a, b)
	a.Close()
}

func TestClientClassifiesErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.client.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Replay of an applied transition surfaces as a conflict.
	_, err = e.client.UpdateStatus(ctx, e.order.ID, models.StatusAccepted, models.RoleFulfiller, "ful-1")
	require.NoError(t, err)
	_, err = e.client.UpdateStatus(ctx, e.order.ID, models.StatusAccepted, models.RoleFulfiller, "ful-1")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = e.client.SendMessage(ctx, e.order.ID, "req-1", models.RoleRequester, "")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestClientTimeoutIsTransient(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	// A server that never answers within the client timeout.
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(slow.Close)

	client := syncclient.NewClient(slow.URL, 50*time.Millisecond, logger)
	_, err := client.GetOrder(context.Background(), "any")
	assert.ErrorIs(t, err, store.ErrTransient)
}
