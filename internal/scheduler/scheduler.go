package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"scheduler-post-bot/internal/metrics"
	"scheduler-post-bot/internal/post"
)

const scheduledPostTag = "scheduled_post"

type Deliverer interface {
	Deliver(ctx context.Context, req post.Request) post.Outcome
}

// Entry is a pending scheduled post. Copies returned by List carry no timer.
type Entry struct {
	ID        uuid.UUID
	Request   post.Request
	CreatedAt time.Time

	jobID uuid.UUID
	armed bool
}

// Scheduler owns the registry of future deliveries and the gocron jobs that
// fire them. An entry is in the registry exactly while its job may still
// deliver: fire and Cancel both remove the entry under mu before acting.
type Scheduler struct {
	instance  gocron.Scheduler
	clock     clockwork.Clock
	deliverer Deliverer
	log       logrus.FieldLogger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	entries []*Entry
	baseCtx context.Context
}

type Option func(*options)

type options struct {
	clock    clockwork.Clock
	location *time.Location
	metrics  *metrics.Metrics
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func NewScheduler(deliverer Deliverer, log logrus.FieldLogger, opts ...Option) (*Scheduler, error) {
	o := options{clock: clockwork.NewRealClock(), location: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	s, err := gocron.NewScheduler(
		gocron.WithClock(o.clock),
		gocron.WithLocation(o.location),
	)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		instance:  s,
		clock:     o.clock,
		deliverer: deliverer,
		log:       log.WithField("component", "scheduler"),
		metrics:   o.metrics,
		baseCtx:   context.Background(),
	}, nil
}

// Schedule registers req and arms a one-shot job for req.DueAt. A due time
// that is not in the future fires immediately.
func (s *Scheduler) Schedule(req post.Request) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}
	now := s.clock.Now()
	entry := &Entry{ID: uuid.New(), Request: req, CreatedAt: now}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	pending := len(s.entries)
	s.mu.Unlock()
	s.metrics.SetScheduledPending(pending)

	job, err := s.arm(entry.ID, req.DueAt, now)
	if err != nil {
		s.take(entry.ID)
		return uuid.Nil, fmt.Errorf("could not arm scheduled post: %w", err)
	}

	s.mu.Lock()
	registered := s.indexOf(entry.ID) >= 0
	if registered {
		entry.jobID = job.ID()
		entry.armed = true
	}
	s.mu.Unlock()
	if !registered {
		// Already fired or cancelled before the job id was attached.
		_ = s.instance.RemoveJob(job.ID())
	}

	s.log.WithFields(logrus.Fields{
		"entry_id": entry.ID,
		"type":     req.ContentType,
		"due_at":   req.DueAt,
		"chat_id":  req.OriginChatID,
	}).Info("Scheduled post")
	return entry.ID, nil
}

func (s *Scheduler) arm(id uuid.UUID, dueAt, now time.Time) (gocron.Job, error) {
	task := gocron.NewTask(s.fire, id)
	jobOpts := []gocron.JobOption{
		gocron.WithName("scheduled-post-" + id.String()),
		gocron.WithTags(scheduledPostTag),
		gocron.WithLimitedRuns(1),
	}
	if dueAt.After(now) {
		job, err := s.instance.NewJob(
			gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(dueAt)),
			task,
			jobOpts...,
		)
		if err == nil {
			return job, nil
		}
		// The due time slipped into the past while arming; deliver now.
		s.log.WithField("entry_id", id).Debugf("Start time rejected, firing immediately: %v", err)
	}
	return s.instance.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		task,
		jobOpts...,
	)
}

func (s *Scheduler) fire(id uuid.UUID) {
	entry, ok := s.take(id)
	if !ok {
		s.log.WithField("entry_id", id).Debug("Timer fired for an entry that is no longer registered")
		return
	}
	log := s.log.WithFields(logrus.Fields{"entry_id": id, "type": entry.Request.ContentType})
	log.Info("Scheduler fired: delivering post")

	outcome := s.deliverer.Deliver(s.context(), entry.Request)
	if !outcome.Delivered() {
		log.Warnf("Scheduled post failed and will not be retried: %v", outcome.Err)
	}
}

// Cancel disarms and removes the entry. It reports false for ids that have
// already fired or been cancelled.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	entry, ok := s.take(id)
	if !ok {
		return false
	}
	if entry.armed {
		if err := s.instance.RemoveJob(entry.jobID); err != nil {
			s.log.WithField("entry_id", id).Debugf("Job already gone while cancelling: %v", err)
		}
	}
	s.log.WithField("entry_id", id).Info("Cancelled scheduled post")
	return true
}

// List returns pending entries in insertion order.
func (s *Scheduler) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Entry{ID: e.ID, Request: e.Request, CreatedAt: e.CreatedAt})
	}
	return out
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) take(id uuid.UUID) (Entry, bool) {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return Entry{}, false
	}
	entry := *s.entries[idx]
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	pending := len(s.entries)
	s.mu.Unlock()
	s.metrics.SetScheduledPending(pending)
	return entry, true
}

func (s *Scheduler) indexOf(id uuid.UUID) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// AddJob installs a recurring maintenance job identified by tag.
func (s *Scheduler) AddJob(tag string, interval time.Duration, job func()) error {
	_, err := s.instance.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(job),
		gocron.WithTags(tag),
	)
	if err != nil {
		s.log.Errorf("Error adding job to scheduler: %v", err)
	}
	return err
}

func (s *Scheduler) RemoveJobByTag(tag string) {
	s.instance.RemoveByTags(tag)
}

// Start begins firing jobs. ctx is handed to every delivery.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.instance.Start()
	s.log.Info("Scheduler started")
}

func (s *Scheduler) Shutdown() error {
	return s.instance.Shutdown()
}
