package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"stockbook/backend/internal/blob"
	"stockbook/backend/internal/cache"
	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/lock"
	"stockbook/backend/internal/logging"
	"stockbook/backend/internal/observability"
	"stockbook/backend/internal/store"
)

// ErrForbidden is returned when the caller has no actor or lacks the role.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Dispatcher hands follow-up work to the background worker.
type Dispatcher interface {
	EnqueueBlobCleanup(ctx context.Context, url string) error
	EnqueueReconcile(ctx context.Context, userID string) error
}

// inlineDispatcher runs follow-up work synchronously when no worker queue is
// configured.
type inlineDispatcher struct {
	svc *Service
}

func (d inlineDispatcher) EnqueueBlobCleanup(ctx context.Context, url string) error {
	return d.svc.blobs.Delete(ctx, url)
}

func (d inlineDispatcher) EnqueueReconcile(ctx context.Context, userID string) error {
	report, err := d.svc.ReconcileLedger(ctx, userID)
	if err != nil {
		return err
	}
	d.svc.logDrift(*report)
	return nil
}

type Options struct {
	Cache        cache.DashboardCache
	DashboardTTL time.Duration
	Locker       lock.Locker
	Blobs        blob.Store
	Dispatcher   Dispatcher
	Metrics      *observability.Metrics
	Logger       *logrus.Logger
	// MaxRetries bounds how many times a ledger write is re-run after a
	// version conflict.
	MaxRetries int
	Now        func() time.Time
}

type Service struct {
	repo         store.Repository
	cache        cache.DashboardCache
	dashboardTTL time.Duration
	locker       lock.Locker
	blobs        blob.Store
	dispatcher   Dispatcher
	metrics      *observability.Metrics
	logger       *logrus.Logger
	validate     *validator.Validate
	maxRetries   int
	now          func() time.Time

	// userID -> *atomic.Uint64, bumped on every dashboard invalidation
	dashboardGens sync.Map
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopDashboardCache{}
	}
	if opts.DashboardTTL <= 0 {
		opts.DashboardTTL = 30 * time.Second
	}
	if opts.Locker == nil {
		opts.Locker = lock.NoopLocker{}
	}
	if opts.Blobs == nil {
		opts.Blobs = blob.NewMemoryStore("")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	svc := &Service{
		repo:         repo,
		cache:        opts.Cache,
		dashboardTTL: opts.DashboardTTL,
		locker:       opts.Locker,
		blobs:        opts.Blobs,
		dispatcher:   opts.Dispatcher,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		validate:     validator.New(),
		maxRetries:   opts.MaxRetries,
		now:          opts.Now,
	}
	if svc.dispatcher == nil {
		svc.dispatcher = inlineDispatcher{svc: svc}
	}
	return svc
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, fmt.Errorf("%w: authenticated user required", ErrForbidden)
	}
	return actor, nil
}

func (s *Service) requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return actor, nil
}

// validateStruct runs validator tags and reports the first failure as a
// *store.ValidationError.
func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return store.Invalid(strings.ToLower(fe.Field()), "failed "+fe.Tag())
	}
	return store.Invalid("", err.Error())
}

// withConflictRetry re-runs fn while it fails with store.ErrConflict, up to
// maxRetries extra attempts. fn must re-read everything it depends on.
func (s *Service) withConflictRetry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		s.metrics.Conflict(operation)
		s.logger.WithFields(logrus.Fields{
			"module":    "service",
			"operation": operation,
			"attempt":   attempt + 1,
		}).Debug("version conflict, retrying")
	}
	return err
}

// acquire takes the advisory lock for key. A busy lock is a conflict; an
// unreachable backend is logged and the caller continues on store versioning.
func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	release, err := s.locker.Acquire(ctx, key)
	if err == nil {
		return release, nil
	}
	if errors.Is(err, lock.ErrUnavailable) {
		s.logger.WithError(err).WithField("key", key).Warn("proceeding without redis lock")
		return func() {}, nil
	}
	return nil, err
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, fields logrus.Fields) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	entry := s.logger.WithFields(logrus.Fields{
		"module":      "audit",
		"actor":       actor.Username,
		"actor_role":  actor.Role,
		"action":      action,
		"entity_type": entityType,
		"entity_id":   entityID,
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Info(action)
}

func (s *Service) dashboardGeneration(userID string) *atomic.Uint64 {
	gen, _ := s.dashboardGens.LoadOrStore(userID, new(atomic.Uint64))
	return gen.(*atomic.Uint64)
}

func (s *Service) invalidateDashboard(ctx context.Context, userID string) {
	s.dashboardGeneration(userID).Add(1)
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to invalidate dashboard cache")
	}
}
