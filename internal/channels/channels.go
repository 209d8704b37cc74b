package channels

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"scheduler-post-bot/internal/post"
)

var (
	usernamePattern  = regexp.MustCompile(`^@[A-Za-z0-9_]{5,32}$`)
	channelIDPattern = regexp.MustCompile(`^-100\d+$`)
)

// ParseDestination accepts a channel username ("@name") or a channel id ("-100...").
func ParseDestination(input string) (post.Destination, error) {
	input = strings.TrimSpace(input)
	switch {
	case usernamePattern.MatchString(input):
		return post.Destination{Username: input}, nil
	case channelIDPattern.MatchString(input):
		id, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return post.Destination{}, fmt.Errorf("%w: channel id %q out of range", post.ErrValidation, input)
		}
		return post.ChatDestination(id), nil
	default:
		return post.Destination{}, fmt.Errorf("%w: %q is neither @username nor -100 channel id", post.ErrValidation, input)
	}
}

type AdminChecker interface {
	// AdminStatus reports the bot's own membership status in dest
	// ("administrator", "creator", "member", ...).
	AdminStatus(ctx context.Context, dest post.Destination) (string, error)
}

// VerifyAdmin fails with post.ErrAuthorization unless the bot administers dest.
func VerifyAdmin(ctx context.Context, checker AdminChecker, dest post.Destination) error {
	status, err := checker.AdminStatus(ctx, dest)
	if err != nil {
		return fmt.Errorf("%w: could not check %s: %v", post.ErrAuthorization, dest, err)
	}
	switch status {
	case "administrator", "creator":
		return nil
	default:
		return fmt.Errorf("%w: status in %s is %q", post.ErrAuthorization, dest, status)
	}
}

type Binding struct {
	OwnerID     int64
	Destination post.Destination
	VerifiedAt  time.Time
}

// Registry maps operators to their verified publish destination. Bindings live
// for the process lifetime and are overwritten by a new verification.
type Registry struct {
	mu       sync.RWMutex
	bindings map[int64]Binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[int64]Binding)}
}

func (r *Registry) Bind(ownerID int64, dest post.Destination, verifiedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[ownerID] = Binding{OwnerID: ownerID, Destination: dest, VerifiedAt: verifiedAt}
}

func (r *Registry) Get(ownerID int64) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[ownerID]
	return b, ok
}

func (r *Registry) Unbind(ownerID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bindings[ownerID]
	delete(r.bindings, ownerID)
	return ok
}
