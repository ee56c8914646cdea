// Package notify implements notification fan-out: delivery to a
// single user, to all admins, or to every subscribed authorized user.
// Delivery is at-most-once; per-recipient failures are isolated and
// never abort the rest of a batch.
package notify

import (
	"context"

	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Telegram allows roughly 30 messages per second per bot; stay under
// that during broadcasts.
const (
	sendsPerSecond = 25
	sendBurst      = 5
)

// Notifier delivers messages through the gateway.
type Notifier struct {
	log      logrus.FieldLogger
	gw       gateway.Gateway
	store    store.Store
	adminIDs []int64
	limiter  *rate.Limiter
}

// NewNotifier creates a Notifier. adminIDs is the static admin
// allow-list used by NotifyAdmins.
func NewNotifier(
	log logrus.FieldLogger,
	gw gateway.Gateway,
	st store.Store,
	adminIDs []int64,
) *Notifier {
	return &Notifier{
		log:      log.WithField("component", "notify"),
		gw:       gw,
		store:    st,
		adminIDs: adminIDs,
		limiter:  rate.NewLimiter(rate.Limit(sendsPerSecond), sendBurst),
	}
}

// NotifyUser attempts one delivery to a single user. Transport
// failures are logged and reported as false; there is no retry.
func (n *Notifier) NotifyUser(ctx context.Context, telegramID int64, text string) bool {
	if err := n.limiter.Wait(ctx); err != nil {
		return false
	}

	if err := n.gw.Send(ctx, telegramID, text, nil); err != nil {
		n.log.WithError(err).
			WithField("telegram_id", telegramID).
			Warn("Notification delivery failed")

		return false
	}

	return true
}

// NotifyAdmins delivers text to every configured admin and returns the
// number of successful deliveries. A failure for one admin does not
// abort delivery to the others.
func (n *Notifier) NotifyAdmins(ctx context.Context, text string) int {
	delivered := 0

	for _, id := range n.adminIDs {
		if n.NotifyUser(ctx, id, text) {
			delivered++
		}
	}

	return delivered
}

// NotifyAllSubscribed delivers text to every authorized user with
// notifications enabled and returns the number of successful
// deliveries.
func (n *Notifier) NotifyAllSubscribed(ctx context.Context, text string) int {
	users, err := n.store.ListAuthorizedUsers(ctx)
	if err != nil {
		n.log.WithError(err).Error("Failed to load subscriber list")

		return 0
	}

	delivered := 0

	for _, user := range users {
		if !user.NotificationsEnabled {
			continue
		}

		if n.NotifyUser(ctx, user.TelegramID, text) {
			delivered++
		}
	}

	return delivered
}
