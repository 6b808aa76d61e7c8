package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/notify"

	"github.com/stretchr/testify/assert"
)

type recordingNotifier struct {
	mu     sync.Mutex
	got    []notify.Notification
	failOn int64
}

func (r *recordingNotifier) Notify(ctx context.Context, n notify.Notification) error {
	if n.RecipientID == r.failOn {
		return errors.New("mailbox full")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func TestOrderConfirmedNotifiesCustomerAndSellers(t *testing.T) {
	rec := &recordingNotifier{failOn: -1}
	svc := NewNotificationService(rec, 2)

	sent := svc.OrderConfirmed(context.Background(), &models.OrderConfirmedEvent{
		OrderID: 9, UserID: 1, SellerIDs: []int64{20, 30},
	})
	assert.Equal(t, 3, sent)

	sort.Slice(rec.got, func(i, j int) bool { return rec.got[i].RecipientID < rec.got[j].RecipientID })
	assert.Equal(t, notify.KindOrderConfirmed, rec.got[0].Kind)
	assert.Equal(t, notify.RecipientCustomer, rec.got[0].RecipientType)
	for _, n := range rec.got[1:] {
		assert.Equal(t, notify.KindSellerNotified, n.Kind)
		assert.Equal(t, notify.RecipientSeller, n.RecipientType)
		assert.Equal(t, int64(9), n.OrderID)
	}
}

func TestNotificationFailuresDoNotStopOthers(t *testing.T) {
	rec := &recordingNotifier{failOn: 20}
	svc := NewNotificationService(rec, 1)

	sent := svc.OrderCancelled(context.Background(), &models.OrderCancelledEvent{
		OrderID: 3, UserID: 1, SellerIDs: []int64{20, 30}, Reason: ReasonPaymentFailed,
	})
	assert.Equal(t, 2, sent)
	for _, n := range rec.got {
		assert.Equal(t, ReasonPaymentFailed, n.Reason)
	}
}
