package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// ErrClosed is returned by submissions started on, or interrupted by, a
// closed Registrar.
var ErrClosed = errors.New("registrar closed")

// DefaultAttemptTimeout bounds a single registration request.
const DefaultAttemptTimeout = 30 * time.Second

// Option configures Registrar.
type Option func(*Registrar)

// WithStore sets where the registration record is persisted.
// The default is an in-memory store.
func WithStore(store Store) Option {
	return func(r *Registrar) {
		r.store = store
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registrar) {
		r.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for registration requests.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Registrar) {
		r.clientOpts = append(r.clientOpts, WithClientHTTPClient(client))
	}
}

// WithAttemptTimeout bounds each registration request, whatever timeout the
// HTTP client has. Values <= 0 keep DefaultAttemptTimeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(r *Registrar) {
		if d > 0 {
			r.attemptTimeout = d
		}
	}
}

// WithClientOptions passes options through to the registration Client.
func WithClientOptions(opts ...ClientOption) Option {
	return func(r *Registrar) {
		r.clientOpts = append(r.clientOpts, opts...)
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Registrar) {
		r.policy = p
	}
}

// WithMetrics records attempt and submission counters.
func WithMetrics(m *Metrics) Option {
	return func(r *Registrar) {
		r.metrics = m
	}
}

// sender is the network half of a submission; *Client implements it.
type sender interface {
	Register(ctx context.Context, token, instanceID string) error
}

// Registrar owns the current registration record and the submission that
// is trying to deliver it. At most one submission makes network calls at a
// time; a newer token cancels the older submission.
type Registrar struct {
	client         sender
	clientOpts     []ClientOption
	store          Store
	policy         RetryPolicy
	attemptTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics
	now            func() time.Time

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	record  *Record
	loaded  bool
	gen     uint64
	current *submission
	closed  bool
}

type submission struct {
	gen        uint64
	token      string
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	prev       *submission
	superseded atomic.Bool

	// Outcome, readable once done is closed.
	ack Ack
	err error

	// join is set on a handle that waits for an in-flight submission of the
	// same token instead of starting its own.
	join *submission
}

func (s *submission) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// New creates a Registrar that reports tokens to endpoint.
func New(endpoint string, opts ...Option) *Registrar {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registrar{
		store:          NewMemoryStore(),
		policy:         DefaultRetryPolicy(),
		attemptTimeout: DefaultAttemptTimeout,
		logger:         slog.Default(),
		now:            time.Now,
		baseCtx:        ctx,
		shutdown:       cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	clientOpts := append([]ClientOption{WithClientLogger(r.logger)}, r.clientOpts...)
	r.client = NewClient(endpoint, clientOpts...)
	return r
}

// Submit persists token and reports it to the endpoint, retrying transient
// failures. It blocks until the token is acknowledged, rejected, the retry
// budget is spent, a newer token supersedes it, or ctx is done. Submitting
// the token that is already in flight waits for that submission's outcome.
func (r *Registrar) Submit(ctx context.Context, token string) (Ack, error) {
	sub, ack, err := r.start(ctx, token)
	if err != nil || sub == nil {
		return ack, err
	}
	return r.run(ctx, sub)
}

// SubmitAsync is the non-blocking form of Submit for SDK callbacks. The token
// is validated and persisted before it returns, so calls keep their order;
// the network work runs in the background. The channel yields one Result.
func (r *Registrar) SubmitAsync(token string) <-chan Result {
	sub, ack, err := r.start(context.Background(), token)
	return r.runAsync(sub, ack, err)
}

// Resume restarts delivery of a persisted record that was never
// acknowledged, e.g. after a process restart mid-retry.
func (r *Registrar) Resume(ctx context.Context) (Ack, error) {
	sub, ack, err := r.resumeStart(ctx)
	if err != nil || sub == nil {
		return ack, err
	}
	return r.run(ctx, sub)
}

// ResumeAsync is the non-blocking form of Resume.
func (r *Registrar) ResumeAsync() <-chan Result {
	sub, ack, err := r.resumeStart(context.Background())
	return r.runAsync(sub, ack, err)
}

// Record returns a snapshot of the current registration record.
func (r *Registrar) Record() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked(context.Background())
	if r.record == nil {
		return Record{}, false
	}
	return *r.record, true
}

// Close cancels in-flight submissions and waits for them to finish.
// The persisted record is left resumable.
func (r *Registrar) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.shutdown()
	r.wg.Wait()
	return nil
}

func (r *Registrar) start(ctx context.Context, token string) (*submission, Ack, error) {
	if token == "" {
		r.metrics.submission("invalid")
		return nil, Ack{}, ErrInvalidToken
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, Ack{}, ErrClosed
	}
	r.loadLocked(ctx)

	if r.record != nil && r.record.Token == token && r.record.Acknowledged() {
		r.logger.Debug("Token already registered, skipping", "token_prefix", TokenPrefix(token))
		r.metrics.submission("ack")
		return nil, ackFromRecord(*r.record), nil
	}
	if cur := r.current; cur != nil && cur.token == token && !cur.finished() {
		r.logger.Debug("Token registration already in flight, waiting for it", "token_prefix", TokenPrefix(token))
		return &submission{token: token, join: cur}, Ack{}, nil
	}

	instanceID := ""
	if r.record != nil {
		instanceID = r.record.InstanceID
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	rec := Record{
		Token:      token,
		State:      StatePending,
		InstanceID: instanceID,
		ObservedAt: r.now().UTC(),
	}
	sub, err := r.beginLocked(ctx, rec)
	if err != nil {
		return nil, Ack{}, err
	}
	return sub, Ack{}, nil
}

func (r *Registrar) resumeStart(ctx context.Context) (*submission, Ack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, Ack{}, ErrClosed
	}
	r.loadLocked(ctx)

	if r.record == nil {
		return nil, Ack{}, ErrNoRecord
	}
	rec := *r.record
	switch {
	case rec.Acknowledged():
		return nil, ackFromRecord(rec), nil
	case rec.State == StateRejected:
		return nil, Ack{}, fmt.Errorf("%w: %s", ErrRejected, rec.LastError)
	case !rec.Resumable():
		return nil, Ack{}, fmt.Errorf("%w: record in state %q", ErrNoRecord, rec.State)
	}

	r.logger.Info("Resuming token registration", "token_prefix", TokenPrefix(rec.Token), "attempts", rec.Attempts)
	if rec.InstanceID == "" {
		rec.InstanceID = uuid.NewString()
	}
	rec.State = StatePending
	sub, err := r.beginLocked(ctx, rec)
	if err != nil {
		return nil, Ack{}, err
	}
	return sub, Ack{}, nil
}

// beginLocked persists rec as the current record and supersedes whatever
// submission was in flight. Caller holds r.mu.
func (r *Registrar) beginLocked(ctx context.Context, rec Record) (*submission, error) {
	if err := r.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting registration record: %w", err)
	}

	r.gen++
	prev := r.current
	if prev != nil {
		prev.superseded.Store(true)
		prev.cancel()
		r.logger.Debug("Superseding in-flight registration", "token_prefix", TokenPrefix(prev.token))
	}

	subCtx, cancel := context.WithCancel(r.baseCtx)
	sub := &submission{
		gen:        r.gen,
		token:      rec.Token,
		instanceID: rec.InstanceID,
		ctx:        subCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		prev:       prev,
	}
	r.current = sub
	r.record = &rec
	r.wg.Add(1)
	return sub, nil
}

// loadLocked reads the persisted record once. Caller holds r.mu.
func (r *Registrar) loadLocked(ctx context.Context) {
	if r.loaded {
		return
	}
	r.loaded = true
	rec, err := r.store.Load(ctx)
	switch {
	case err == nil:
		r.record = &rec
	case errors.Is(err, ErrNoRecord):
	default:
		r.logger.Warn("Failed to load persisted registration record; starting fresh", "error", err)
	}
}

func (r *Registrar) runAsync(sub *submission, ack Ack, err error) <-chan Result {
	out := make(chan Result, 1)
	if err != nil || sub == nil {
		out <- Result{Ack: ack, Err: err}
		close(out)
		return out
	}
	go func() {
		defer close(out)
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Token registration panicked", "panic", p)
				out <- Result{Err: fmt.Errorf("token registration panicked: %v", p)}
			}
		}()
		ack, err := r.run(context.Background(), sub)
		out <- Result{Ack: ack, Err: err}
	}()
	return out
}

func (r *Registrar) run(ctx context.Context, sub *submission) (ack Ack, err error) {
	if sub.join != nil {
		return awaitSubmission(ctx, sub.join)
	}
	defer r.wg.Done()
	defer close(sub.done)
	defer func() { sub.ack, sub.err = ack, err }()
	defer sub.cancel()
	stop := context.AfterFunc(ctx, sub.cancel)
	defer stop()

	// The superseded loop must be gone before this token goes on the wire.
	if sub.prev != nil {
		<-sub.prev.done
		sub.prev = nil
	}

	log := r.logger.With("token_prefix", TokenPrefix(sub.token))
	attempts := 0

	op := func() error {
		if err := sub.ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		sending := r.transition(sub, func(rec *Record) {
			sentAt := r.now().UTC()
			rec.State = StateSending
			rec.Attempts++
			rec.LastSentAt = &sentAt
		})
		if !sending {
			return backoff.Permanent(ErrSuperseded)
		}
		attempts++

		attemptCtx, cancel := context.WithTimeout(sub.ctx, r.attemptTimeout)
		err := r.client.Register(attemptCtx, sub.token, sub.instanceID)
		cancel()
		switch {
		case err == nil:
			r.metrics.attempt("ack")
			return nil
		case sub.ctx.Err() != nil:
			return backoff.Permanent(err)
		case !IsTransient(err):
			r.metrics.attempt("rejected")
			return backoff.Permanent(err)
		}
		r.metrics.attempt("transient")
		r.transition(sub, func(rec *Record) {
			rec.State = StatePending
			rec.LastError = err.Error()
		})
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn("Token registration attempt failed, retrying", "attempt", attempts, "retry_in", next, "error", err)
	}

	err = backoff.RetryNotify(op, r.policy.newBackOff(sub.ctx), notify)

	switch {
	case err == nil:
		acked := r.transition(sub, func(rec *Record) {
			ackAt := r.now().UTC()
			rec.State = StateAcknowledged
			rec.AcknowledgedAt = &ackAt
			rec.LastError = ""
			ack = ackFromRecord(*rec)
		})
		if !acked {
			r.metrics.submission("superseded")
			return Ack{}, ErrSuperseded
		}
		r.metrics.submission("ack")
		log.Info("Token registration acknowledged", "attempts", attempts)
		return ack, nil

	case sub.superseded.Load() || errors.Is(err, ErrSuperseded):
		r.metrics.submission("superseded")
		log.Debug("Token registration superseded", "attempts", attempts)
		return Ack{}, ErrSuperseded

	case sub.ctx.Err() != nil:
		cause := ctx.Err()
		if cause == nil {
			cause = ErrClosed
		}
		r.transition(sub, func(rec *Record) {
			rec.State = StatePending
			rec.LastError = cause.Error()
		})
		r.metrics.submission("canceled")
		log.Info("Token registration interrupted; record left pending", "attempts", attempts)
		return Ack{}, fmt.Errorf("token registration interrupted: %w", cause)

	case !IsTransient(err):
		r.transition(sub, func(rec *Record) {
			rec.State = StateRejected
			rec.LastError = err.Error()
		})
		r.metrics.submission("rejected")
		log.Error("Token registration rejected", "error", err)
		return Ack{}, fmt.Errorf("%w: %w", ErrRejected, err)

	default:
		r.metrics.submission("exhausted")
		log.Error("Token registration failed; retry budget spent", "attempts", attempts, "error", err)
		return Ack{}, fmt.Errorf("%w (%d attempts): %w", ErrTransientFailureExhausted, attempts, err)
	}
}

func awaitSubmission(ctx context.Context, sub *submission) (Ack, error) {
	select {
	case <-sub.done:
		return sub.ack, sub.err
	case <-ctx.Done():
		return Ack{}, fmt.Errorf("token registration interrupted: %w", ctx.Err())
	}
}

// transition applies mutate to the current record and persists it, but only
// while sub is still the newest submission. Every record write goes through
// here or beginLocked, under r.mu.
func (r *Registrar) transition(sub *submission, mutate func(*Record)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.gen != r.gen || r.record == nil {
		return false
	}
	rec := *r.record
	mutate(&rec)
	if err := r.store.Save(context.WithoutCancel(sub.ctx), rec); err != nil {
		r.logger.Error("Failed to persist registration record", "error", err)
	}
	r.record = &rec
	return true
}
