package lifecycle_test

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfeld/orderdesk/internal/lifecycle"
	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/internal/store/memory"
	"github.com/jfeld/orderdesk/pkg/models"
)

type recordedTransition struct {
	orderID    string
	prev, next models.Status
	actor      models.Role
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []recordedTransition
}

func (n *recordingNotifier) StatusChanged(_ context.Context, o *models.Order, prev, next models.Status, actor models.Role) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, recordedTransition{o.ID, prev, next, actor})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newService(t *testing.T) (*lifecycle.Service, *memory.OrderStore, *recordingNotifier) {
	t.Helper()
	orders := memory.NewOrderStore()
	notifier := &recordingNotifier{}
	return lifecycle.NewService(orders, notifier, testLogger()), orders, notifier
}

func createOrder(t *testing.T, svc *lifecycle.Service) *models.Order {
	t.Helper()
	o, err := svc.Create(context.Background(), lifecycle.CreateRequest{
		RequesterID: "req-1",
		FulfillerID: "ful-1",
		Items:       []models.LineItem{{Name: "custom portrait", UnitPrice: 42.50}},
	})
	require.NoError(t, err)
	return o
}

func forceStatus(t *testing.T, orders *memory.OrderStore, id string, status models.Status) {
	t.Helper()
	_, err := orders.Mutate(context.Background(), id, func(o *models.Order) error {
		o.Status = status
		return nil
	})
	require.NoError(t, err)
}

func TestCreate(t *testing.T) {
	svc, _, _ := newService(t)

	o := createOrder(t, svc)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Equal(t, 42.50, o.Total)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, o.CreatedAt, o.UpdatedAt)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, lifecycle.CreateRequest{FulfillerID: "f", Items: []models.LineItem{{Name: "x"}}})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.Create(ctx, lifecycle.CreateRequest{RequesterID: "r", Items: []models.LineItem{{Name: "x"}}})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.Create(ctx, lifecycle.CreateRequest{RequesterID: "r", FulfillerID: "f"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

// The full legal edge set, spelled out independently of the production
// table so a table regression cannot hide from the test.
var legalEdges = []struct {
	from, to models.Status
	actor    models.Role
}{
	{models.StatusPending, models.StatusAccepted, models.RoleFulfiller},
	{models.StatusPending, models.StatusRejected, models.RoleFulfiller},
	{models.StatusAccepted, models.StatusPaymentPending, models.RoleFulfiller},
	{models.StatusPaymentPending, models.StatusAccepted, models.RoleFulfiller},
	{models.StatusAccepted, models.StatusShipped, models.RoleFulfiller},
	{models.StatusAccepted, models.StatusCancelled, models.RoleFulfiller},
	{models.StatusPaymentPending, models.StatusCancelled, models.RoleFulfiller},
	{models.StatusShipped, models.StatusCompleted, models.RoleFulfiller},
	{models.StatusRejected, models.StatusPending, models.RoleRequester},
	{models.StatusCancelled, models.StatusPending, models.RoleRequester},
}

var allStatuses = []models.Status{
	models.StatusPending, models.StatusAccepted, models.StatusPaymentPending,
	models.StatusShipped, models.StatusCompleted, models.StatusRejected,
	models.StatusCancelled,
}

func isLegal(from, to models.Status, actor models.Role) bool {
	for _, e := range legalEdges {
		if e.from == from && e.to == to && e.actor == actor {
			return true
		}
	}
	return false
}

func TestTransitionGrid(t *testing.T) {
	ctx := context.Background()
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			for _, actor := range []models.Role{models.RoleRequester, models.RoleFulfiller} {
				svc, orders, notifier := newService(t)
				o := createOrder(t, svc)
				forceStatus(t, orders, o.ID, from)

				updated, err := svc.Transition(ctx, o.ID, to, actor)
				if isLegal(from, to, actor) {
					require.NoError(t, err, "%s: %s -> %s should be legal", actor, from, to)
					assert.Equal(t, to, updated.Status)
					assert.Equal(t, 1, notifier.count())
				} else {
					assert.ErrorIs(t, err, store.ErrInvalidTransition,
						"%s: %s -> %s should be rejected", actor, from, to)
					assert.Equal(t, 0, notifier.count(), "rejected transition must not notify")

					stored, gerr := orders.Get(ctx, o.ID)
					require.NoError(t, gerr)
					assert.Equal(t, from, stored.Status, "rejected transition must not change status")
				}
			}
		}
	}
}

func TestTransitionReplayRejected(t *testing.T) {
	svc, _, notifier := newService(t)
	ctx := context.Background()
	o := createOrder(t, svc)

	_, err := svc.Transition(ctx, o.ID, models.StatusAccepted, models.RoleFulfiller)
	require.NoError(t, err)

	// A retried client request replays the same transition; there is no
	// accepted -> accepted edge, so it fails and produces no second
	// system message.
	_, err = svc.Transition(ctx, o.ID, models.StatusAccepted, models.RoleFulfiller)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.Equal(t, 1, notifier.count())
}

func TestTransitionNotFound(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Transition(context.Background(), "no-such-order", models.StatusAccepted, models.RoleFulfiller)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTransitionRefreshesUpdatedAt(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	o := createOrder(t, svc)

	updated, err := svc.Transition(ctx, o.ID, models.StatusAccepted, models.RoleFulfiller)
	require.NoError(t, err)
	assert.False(t, updated.UpdatedAt.Before(o.UpdatedAt))

	again, err := svc.Transition(ctx, o.ID, models.StatusShipped, models.RoleFulfiller)
	require.NoError(t, err)
	assert.False(t, again.UpdatedAt.Before(updated.UpdatedAt), "updated_at is monotonically non-decreasing")
}

func TestRestoreScenario(t *testing.T) {
	svc, orders, _ := newService(t)
	ctx := context.Background()
	o := createOrder(t, svc)

	_, err := svc.Transition(ctx, o.ID, models.StatusRejected, models.RoleFulfiller)
	require.NoError(t, err)

	// Only pending is reachable from rejected, and only for the
	// requester.
	for _, target := range allStatuses {
		if target == models.StatusPending {
			continue
		}
		_, err := svc.Transition(ctx, o.ID, target, models.RoleRequester)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
		_, err = svc.Transition(ctx, o.ID, target, models.RoleFulfiller)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	}

	restored, err := svc.Transition(ctx, o.ID, models.StatusPending, models.RoleRequester)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, restored.Status)

	stored, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestListPartition(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	open := createOrder(t, svc)
	closed := createOrder(t, svc)
	_, err := svc.Transition(ctx, closed.ID, models.StatusRejected, models.RoleFulfiller)
	require.NoError(t, err)

	active, history, err := svc.ListPartition(ctx, store.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Len(t, history, 1)
	assert.Equal(t, open.ID, active[0].ID)
	assert.Equal(t, closed.ID, history[0].ID)
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	svc, _, notifier := newService(t)
	ctx := context.Background()
	o := createOrder(t, svc)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Transition(ctx, o.ID, models.StatusAccepted, models.RoleFulfiller)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, store.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent transition may win")
	assert.Equal(t, 1, notifier.count())
}

func TestActivePartitionFunction(t *testing.T) {
	assert.True(t, models.StatusPending.Active())
	assert.True(t, models.StatusAccepted.Active())
	assert.True(t, models.StatusPaymentPending.Active())
	assert.True(t, models.StatusShipped.Active())
	assert.False(t, models.StatusCompleted.Active())
	assert.False(t, models.StatusRejected.Active())
	assert.False(t, models.StatusCancelled.Active())
}
