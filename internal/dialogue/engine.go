package dialogue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"scheduler-post-bot/internal/channels"
	"scheduler-post-bot/internal/dispatch"
	"scheduler-post-bot/internal/metrics"
	"scheduler-post-bot/internal/post"
	"scheduler-post-bot/internal/ratelimit"
	"scheduler-post-bot/internal/scheduler"
	"scheduler-post-bot/internal/storage"
)

const (
	dialogueTimeoutJobTag = "dialogue_timeout"
	historyLimit          = 10
	listSummaryLength     = 30
	// Upper bound for a scheduling delay, one year in minutes.
	maxDelayMinutes = 365 * 24 * 60
)

// Inbound is one text message addressed to the bot.
type Inbound struct {
	ChatID   int64
	SenderID int64
	Text     string
	// Command is the command name without the slash, empty for plain text.
	Command string
	Args    string
}

type Deliverer interface {
	Deliver(ctx context.Context, req post.Request) post.Outcome
}

type Scheduler interface {
	Schedule(req post.Request) (uuid.UUID, error)
	List() []scheduler.Entry
	Cancel(id uuid.UUID) bool
	AddJob(tag string, interval time.Duration, job func()) error
	RemoveJobByTag(tag string)
}

// Pinger is implemented by content providers that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Identity describes the bot account.
type Identity struct {
	ID                      int64
	Username                string
	FirstName               string
	CanJoinGroups           bool
	CanReadAllGroupMessages bool
}

type History interface {
	RecentDeliveries(ctx context.Context, ownerID int64, limit int) ([]storage.Delivery, error)
	CountDelivered(ctx context.Context, ownerID int64, since time.Time) (int, error)
}

type Config struct {
	Transport  dispatch.Transport
	Dispatcher Deliverer
	Scheduler  Scheduler
	Text       dispatch.TextGenerator
	// Images may be nil; image steps are then skipped.
	Images   dispatch.ImageGenerator
	Limiter  *ratelimit.Limiter
	Bindings *channels.Registry
	// History may be nil when the journal is unavailable.
	History  History
	Metrics  *metrics.Metrics
	Messages dispatch.Messages
	Language string
	Location *time.Location
	Clock    clockwork.Clock
	Identity Identity
	// Timeout tears down dialogues left waiting longer than this; zero disables it.
	Timeout time.Duration
}

// Engine drives one dialogue per chat. Messages of a chat are handled one at a
// time; different chats progress independently.
type Engine struct {
	transport  dispatch.Transport
	dispatcher Deliverer
	scheduler  Scheduler
	text       dispatch.TextGenerator
	images     dispatch.ImageGenerator
	limiter    *ratelimit.Limiter
	bindings   *channels.Registry
	history    History
	metrics    *metrics.Metrics
	messages   dispatch.Messages
	lang       string
	loc        *time.Location
	clock      clockwork.Clock
	identity   Identity
	timeout    time.Duration
	log        logrus.FieldLogger

	stateMutex sync.Mutex
	userStates map[int64]*State
	chatLocks  map[int64]*chatLock
}

// chatLock serialises the handling of one chat. refs counts holders and
// waiters; the entry is dropped when it reaches zero.
type chatLock struct {
	mu   sync.Mutex
	refs int
}

func NewEngine(cfg Config, log logrus.FieldLogger) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		transport:  cfg.Transport,
		dispatcher: cfg.Dispatcher,
		scheduler:  cfg.Scheduler,
		text:       cfg.Text,
		images:     cfg.Images,
		limiter:    cfg.Limiter,
		bindings:   cfg.Bindings,
		history:    cfg.History,
		metrics:    cfg.Metrics,
		messages:   cfg.Messages,
		lang:       cfg.Language,
		loc:        loc,
		clock:      clock,
		identity:   cfg.Identity,
		timeout:    cfg.Timeout,
		log:        log.WithField("component", "dialogue"),
		userStates: make(map[int64]*State),
		chatLocks:  make(map[int64]*chatLock),
	}
}

// Handle routes a message to the chat's active stage, or to the command
// surface when the chat has no dialogue. /cancel always tears the dialogue down.
func (e *Engine) Handle(ctx context.Context, in Inbound) {
	unlock := e.lockChat(in.ChatID)
	defer unlock()

	log := e.log.WithFields(logrus.Fields{"chat_id": in.ChatID, "sender_id": in.SenderID})
	if in.Command == "cancel" {
		e.handleCancelCommand(ctx, in)
		return
	}
	if state, ok := e.getState(in.ChatID); ok {
		log.WithField("stage", state.Stage).Debug("Routing message to active stage")
		e.handleStatefulMessage(ctx, in, state)
		return
	}
	if in.Command != "" {
		log.WithField("command", in.Command).Info("Handling command")
		e.handleCommand(ctx, in)
	}
}

// StageOf reports the active stage of a chat, Idle when there is none.
func (e *Engine) StageOf(chatID int64) Stage {
	state, ok := e.getState(chatID)
	if !ok {
		return Idle
	}
	return state.Stage
}

func (e *Engine) ActiveDialogues() int {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	return len(e.userStates)
}

// ScheduleTimeoutSweep installs the maintenance job that expires idle
// dialogues. It is a no-op when no timeout is configured.
func (e *Engine) ScheduleTimeoutSweep(ctx context.Context) error {
	if e.timeout <= 0 {
		return nil
	}
	interval := time.Minute
	if e.timeout < interval {
		interval = e.timeout
	}
	e.log.Infof("Scheduling dialogue timeout sweep. Timeout: %s, Interval: %s", e.timeout, interval)
	e.scheduler.RemoveJobByTag(dialogueTimeoutJobTag)
	return e.scheduler.AddJob(dialogueTimeoutJobTag, interval, func() { e.ExpireStale(ctx) })
}

// ExpireStale tears down dialogues that have waited longer than the timeout.
// Chats that are busy handling a message are skipped until the next sweep.
func (e *Engine) ExpireStale(ctx context.Context) int {
	if e.timeout <= 0 {
		return 0
	}
	cutoff := e.clock.Now().Add(-e.timeout)

	e.stateMutex.Lock()
	var stale []int64
	for chatID, state := range e.userStates {
		if state.AwaitingSince.Before(cutoff) {
			stale = append(stale, chatID)
		}
	}
	e.stateMutex.Unlock()

	expired := 0
	for _, chatID := range stale {
		unlock, ok := e.tryLockChat(chatID)
		if !ok {
			continue
		}
		state, ok := e.getState(chatID)
		if ok && state.AwaitingSince.Before(cutoff) {
			e.clearUserState(chatID)
			e.releaseQuota(state)
			e.reply(ctx, chatID, e.msg("dialogue_timed_out"))
			e.log.WithFields(logrus.Fields{"chat_id": chatID, "stage": state.Stage}).Info("Dialogue timed out")
			expired++
		}
		unlock()
	}
	return expired
}

func (e *Engine) lockChat(chatID int64) func() {
	lock := e.refChatLock(chatID)
	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		e.unrefChatLock(chatID, lock)
	}
}

func (e *Engine) tryLockChat(chatID int64) (func(), bool) {
	lock := e.refChatLock(chatID)
	if !lock.mu.TryLock() {
		e.unrefChatLock(chatID, lock)
		return nil, false
	}
	return func() {
		lock.mu.Unlock()
		e.unrefChatLock(chatID, lock)
	}, true
}

func (e *Engine) refChatLock(chatID int64) *chatLock {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	lock, ok := e.chatLocks[chatID]
	if !ok {
		lock = &chatLock{}
		e.chatLocks[chatID] = lock
	}
	lock.refs++
	return lock
}

func (e *Engine) unrefChatLock(chatID int64, lock *chatLock) {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(e.chatLocks, chatID)
	}
}

func (e *Engine) getState(chatID int64) (State, bool) {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	state, ok := e.userStates[chatID]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// setUserState arms the next stage for the chat and restarts its wait clock.
func (e *Engine) setUserState(chatID int64, state State) {
	state.AwaitingSince = e.clock.Now()
	e.stateMutex.Lock()
	e.userStates[chatID] = &state
	active := len(e.userStates)
	e.stateMutex.Unlock()
	e.metrics.SetDialoguesActive(active)
}

func (e *Engine) clearUserState(chatID int64) {
	e.stateMutex.Lock()
	delete(e.userStates, chatID)
	active := len(e.userStates)
	e.stateMutex.Unlock()
	e.metrics.SetDialoguesActive(active)
}

func (e *Engine) releaseQuota(state State) {
	if state.QuotaDay != "" && e.limiter != nil {
		e.limiter.Release(state.QuotaDay)
	}
}

func (e *Engine) reply(ctx context.Context, chatID int64, text string) {
	if err := e.transport.SendText(ctx, post.ChatDestination(chatID), text); err != nil {
		e.log.WithField("chat_id", chatID).Errorf("Failed to send message: %v", err)
	}
}

func (e *Engine) msg(key string) string {
	return e.messages.GetMessage(e.lang, key)
}

func (e *Engine) msgf(key string, args ...any) string {
	return fmt.Sprintf(e.msg(key), args...)
}

func (e *Engine) formatTime(t time.Time) string {
	return t.In(e.loc).Format("2006-01-02 15:04 MST")
}

// ownEntries returns the operator's pending scheduled posts in insertion order.
func (e *Engine) ownEntries(ownerID int64) []scheduler.Entry {
	var own []scheduler.Entry
	for _, entry := range e.scheduler.List() {
		if entry.Request.OwnerID == ownerID {
			own = append(own, entry)
		}
	}
	return own
}

func (e *Engine) formatEntries(title string, entries []scheduler.Entry) string {
	var builder strings.Builder
	builder.WriteString(title)
	for i, entry := range entries {
		builder.WriteString(e.msgf("scheduled_list_item",
			i+1,
			entry.Request.ContentType,
			e.formatTime(entry.Request.DueAt),
			entry.Request.Summary(listSummaryLength),
		))
	}
	return builder.String()
}
