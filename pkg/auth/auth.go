// Package auth implements the trust model: every inbound event is
// evaluated to a TrustLevel, and commands declare the minimum level
// they require. The evaluator is the single authority for the admin
// check; handlers must never re-derive trust from raw flags.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/store"
	"github.com/sirupsen/logrus"
)

// TrustLevel is the computed authorization tier of a user. Levels are
// ordered; a user at level L may use commands requiring L or below.
type TrustLevel int

const (
	// Unknown means no user record exists yet.
	Unknown TrustLevel = iota
	// Unauthorized means the user exists but has no access.
	Unauthorized
	// PendingApproval means an access request awaits an admin decision.
	PendingApproval
	// Authorized grants PC control and game-stats commands.
	Authorized
	// Admin additionally grants approval and audit-log commands.
	Admin
)

func (t TrustLevel) String() string {
	switch t {
	case Unknown:
		return "unknown"
	case Unauthorized:
		return "unauthorized"
	case PendingApproval:
		return "pending"
	case Authorized:
		return "authorized"
	case Admin:
		return "admin"
	default:
		return fmt.Sprintf("trust(%d)", int(t))
	}
}

// Evaluator computes trust levels and performs trust transitions.
type Evaluator struct {
	log    logrus.FieldLogger
	store  store.Store
	admins map[int64]struct{}
}

// NewEvaluator creates an Evaluator. adminIDs is the static allow-list
// from configuration; membership overrides stored flags.
func NewEvaluator(
	log logrus.FieldLogger,
	st store.Store,
	adminIDs []int64,
) *Evaluator {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}

	return &Evaluator{
		log:    log.WithField("component", "auth"),
		store:  st,
		admins: admins,
	}
}

// IsStaticAdmin reports whether the id is in the configured admin set.
func (e *Evaluator) IsStaticAdmin(telegramID int64) bool {
	_, ok := e.admins[telegramID]

	return ok
}

// EnsureUser returns the stored user for the sender, creating the
// record on first contact. The second return value reports whether a
// new record was created.
func (e *Evaluator) EnsureUser(
	ctx context.Context, from gateway.Sender,
) (*store.User, bool, error) {
	user, err := e.store.GetUserByTelegramID(ctx, from.ID)
	if err == nil {
		return user, false, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up user: %w", err)
	}

	user = &store.User{
		TelegramID:           from.ID,
		Username:             from.Username,
		FirstName:            from.FirstName,
		LastName:             from.LastName,
		NotificationsEnabled: true,
	}

	if err := e.store.CreateUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("creating user: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"telegram_id": from.ID,
		"username":    from.Username,
	}).Info("New user registered")

	return user, true, nil
}

// Evaluate computes the sender's trust level. It is safe to call on
// every inbound event. Static admin-list membership is an
// unconditional Admin override, even without a stored record.
func (e *Evaluator) Evaluate(
	ctx context.Context, telegramID int64,
) (TrustLevel, error) {
	if e.IsStaticAdmin(telegramID) {
		return Admin, nil
	}

	user, err := e.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Unknown, nil
		}

		return Unknown, fmt.Errorf("looking up user: %w", err)
	}

	if user.IsAuthorized {
		if user.IsAdmin {
			return Admin, nil
		}

		return Authorized, nil
	}

	if _, err := e.store.PendingAuthRequestForUser(ctx, user.ID); err == nil {
		return PendingApproval, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Unknown, fmt.Errorf("checking pending request: %w", err)
	}

	return Unauthorized, nil
}

// RequestAccess records an access request for the user. If a pending
// request already exists it is returned unchanged; duplicates are not
// accumulated. The second return value reports whether a new request
// was created.
func (e *Evaluator) RequestAccess(
	ctx context.Context, user *store.User,
) (*store.AuthRequest, bool, error) {
	if existing, err := e.store.PendingAuthRequestForUser(ctx, user.ID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("checking pending request: %w", err)
	}

	req := &store.AuthRequest{UserID: user.ID}
	if err := e.store.CreateAuthRequest(ctx, req); err != nil {
		return nil, false, fmt.Errorf("creating auth request: %w", err)
	}

	e.log.WithField("telegram_id", user.TelegramID).Info("Access requested")

	return req, true, nil
}

// Approve grants the user access and resolves any pending requests.
// The admin flag is set iff the user's id is in the static admin set;
// an admin is always authorized as well.
func (e *Evaluator) Approve(
	ctx context.Context, telegramID, processedBy int64,
) (*store.User, error) {
	user, err := e.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	user.IsAuthorized = true
	user.IsAdmin = e.IsStaticAdmin(telegramID)

	if err := e.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}

	if err := e.store.ResolveAuthRequests(
		ctx, user.ID, store.AuthStatusApproved, processedBy,
	); err != nil {
		return nil, fmt.Errorf("resolving requests: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"telegram_id": telegramID,
		"admin":       user.IsAdmin,
		"by":          processedBy,
	}).Info("User approved")

	return user, nil
}

// Reject denies the user access and resolves any pending requests.
// Rejection never grants authorization.
func (e *Evaluator) Reject(
	ctx context.Context, telegramID, processedBy int64,
) (*store.User, error) {
	user, err := e.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	user.IsAuthorized = false
	user.IsAdmin = false

	if err := e.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}

	if err := e.store.ResolveAuthRequests(
		ctx, user.ID, store.AuthStatusRejected, processedBy,
	); err != nil {
		return nil, fmt.Errorf("resolving requests: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"telegram_id": telegramID,
		"by":          processedBy,
	}).Info("User rejected")

	return user, nil
}
