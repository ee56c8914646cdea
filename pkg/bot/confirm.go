package bot

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// confirmTTL is how long a confirmation prompt stays valid.
const confirmTTL = 5 * time.Minute

// Destructive actions that require a confirmation round-trip.
const (
	actionReboot   = "reboot"
	actionShutdown = "shutdown"
)

var (
	errConfirmUnknown = errors.New("unknown confirmation token")
	errConfirmExpired = errors.New("confirmation expired")
	errConfirmOwner   = errors.New("confirmation belongs to another user")
)

// pendingAction is one awaiting-confirmation destructive operation.
type pendingAction struct {
	token     string
	userID    int64
	action    string
	createdAt time.Time
}

// confirmRegistry holds pending confirmations keyed by an
// unguessable token. Tokens are single-use.
type confirmRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingAction
	now     func() time.Time
}

func newConfirmRegistry() *confirmRegistry {
	return &confirmRegistry{
		pending: map[string]*pendingAction{},
		now:     time.Now,
	}
}

// add records a pending action and returns its token. A newer prompt
// from the same user supersedes any older one.
func (r *confirmRegistry) add(userID int64, action string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, p := range r.pending {
		if p.userID == userID {
			delete(r.pending, token)
		}
	}

	token := uuid.NewString()
	r.pending[token] = &pendingAction{
		token:     token,
		userID:    userID,
		action:    action,
		createdAt: r.now(),
	}

	return token
}

// take consumes a token. It fails for unknown tokens, tokens issued
// to a different user, and tokens older than confirmTTL; in every
// failure case the pending action is gone afterwards.
func (r *confirmRegistry) take(token string, userID int64) (*pendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[token]
	if !ok {
		return nil, errConfirmUnknown
	}

	if p.userID != userID {
		return nil, errConfirmOwner
	}

	delete(r.pending, token)

	if r.now().Sub(p.createdAt) > confirmTTL {
		return nil, errConfirmExpired
	}

	return p, nil
}

// cancel drops a pending action. Unknown tokens are a no-op.
func (r *confirmRegistry) cancel(token string, userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[token]
	if !ok || p.userID != userID {
		return false
	}

	delete(r.pending, token)

	return true
}
