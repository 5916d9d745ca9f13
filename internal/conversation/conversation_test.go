package conversation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfeld/orderdesk/internal/conversation"
	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/internal/store/memory"
	"github.com/jfeld/orderdesk/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newService(t *testing.T) (*conversation.Service, *memory.OrderStore) {
	t.Helper()
	orders := memory.NewOrderStore()
	messages := memory.NewMessageStore()
	return conversation.NewService(orders, messages, testLogger()), orders
}

func seedOrder(t *testing.T, orders *memory.OrderStore) *models.Order {
	t.Helper()
	now := time.Now().UTC()
	o := &models.Order{
		ID:          "order-1",
		RequesterID: "req-1",
		FulfillerID: "ful-1",
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, orders.Create(context.Background(), o))
	return o
}

func TestAppendAndList(t *testing.T) {
	svc, orders := newService(t)
	ctx := context.Background()
	o := seedOrder(t, orders)

	m, err := svc.Append(ctx, conversation.AppendRequest{
		OrderID:    o.ID,
		SenderID:   "req-1",
		SenderRole: models.RoleRequester,
		Type:       models.MessageText,
		Body:       "hello, is this still available?",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Positive(t, m.Seq)
	assert.False(t, m.CreatedAt.IsZero())

	list, err := svc.List(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, m.ID, list[0].ID)
}

func TestAppendValidation(t *testing.T) {
	svc, orders := newService(t)
	ctx := context.Background()
	o := seedOrder(t, orders)

	cases := []struct {
		name string
		req  conversation.AppendRequest
	}{
		{"empty text body", conversation.AppendRequest{
			OrderID: o.ID, SenderID: "req-1", SenderRole: models.RoleRequester,
			Type: models.MessageText,
		}},
		{"empty payment_info body", conversation.AppendRequest{
			OrderID: o.ID, SenderID: "ful-1", SenderRole: models.RoleFulfiller,
			Type: models.MessagePaymentInfo,
		}},
		{"missing sender", conversation.AppendRequest{
			OrderID: o.ID, SenderRole: models.RoleRequester,
			Type: models.MessageText, Body: "hi",
		}},
		{"unknown type", conversation.AppendRequest{
			OrderID: o.ID, SenderID: "req-1", SenderRole: models.RoleRequester,
			Type: models.MessageType("sticker"), Body: "hi",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Append(ctx, tc.req)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}
}

func TestAppendUnknownOrder(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Append(context.Background(), conversation.AppendRequest{
		OrderID:    "missing",
		SenderID:   "req-1",
		SenderRole: models.RoleRequester,
		Type:       models.MessageText,
		Body:       "hi",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.List(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSystemMessageMayHaveTemplatedBody(t *testing.T) {
	svc, orders := newService(t)
	o := seedOrder(t, orders)

	_, err := svc.Append(context.Background(), conversation.AppendRequest{
		OrderID:    o.ID,
		SenderID:   "system",
		SenderRole: models.RoleSystem,
		Type:       models.MessageSystem,
		Body:       "request accepted",
	})
	assert.NoError(t, err)
}

// Reads separated by appends must be prefix-consistent: the earlier
// sequence reappears unchanged at the head of the later one.
func TestListPrefixConsistency(t *testing.T) {
	svc, orders := newService(t)
	ctx := context.Background()
	o := seedOrder(t, orders)

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, conversation.AppendRequest{
			OrderID: o.ID, SenderID: "req-1", SenderRole: models.RoleRequester,
			Type: models.MessageText, Body: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, o.ID)
	require.NoError(t, err)

	for i := 5; i < 10; i++ {
		_, err := svc.Append(ctx, conversation.AppendRequest{
			OrderID: o.ID, SenderID: "ful-1", SenderRole: models.RoleFulfiller,
			Type: models.MessageText, Body: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	second, err := svc.List(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, second, 10)
	for i, m := range first {
		assert.Equal(t, m.ID, second[i].ID, "prefix order must be stable")
	}
}

func TestConcurrentAppendsAllPersist(t *testing.T) {
	svc, orders := newService(t)
	ctx := context.Background()
	o := seedOrder(t, orders)

	const perSender = 20
	var wg sync.WaitGroup
	for _, sender := range []struct {
		id   string
		role models.Role
	}{{"req-1", models.RoleRequester}, {"ful-1", models.RoleFulfiller}} {
		wg.Add(1)
		go func(id string, role models.Role) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := svc.Append(ctx, conversation.AppendRequest{
					OrderID: o.ID, SenderID: id, SenderRole: role,
					Type: models.MessageText, Body: fmt.Sprintf("%s %d", id, i),
				})
				assert.NoError(t, err)
			}
		}(sender.id, sender.role)
	}
	wg.Wait()

	list, err := svc.List(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2*perSender, "no appends may be lost")

	// The returned order is total and strictly increasing by (created_at, seq).
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].Before(list[i]),
			"log order must be strict at position %d", i)
	}
}
