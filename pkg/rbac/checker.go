package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Evaluator answers permission checks from user_permission grants. Level
// names are resolved through a cache loaded once at construction.
type Evaluator struct {
	store   *Store
	levels  map[string]int
	logger  *observability.Logger
	metrics *observability.Metrics
	otel    *observability.OTelMetrics
	now     func() time.Time
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithLogger sets the evaluator's logger
func WithLogger(logger *observability.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records checks and grants in Prometheus
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Evaluator) { e.metrics = metrics }
}

// WithOTelMetrics records checks as OpenTelemetry instruments
func WithOTelMetrics(otel *observability.OTelMetrics) Option {
	return func(e *Evaluator) { e.otel = otel }
}

// NewEvaluator loads the level cache and returns a ready evaluator
func NewEvaluator(ctx context.Context, store *Store, opts ...Option) (*Evaluator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", auth.ErrInvalidArgument)
	}

	levels, err := store.Levels(ctx)
	if err != nil {
		return nil, err
	}

	e := &Evaluator{
		store:  store,
		levels: make(map[string]int, len(levels)),
		logger: observability.NewNopLogger(),
		now:    time.Now,
	}
	for _, level := range levels {
		e.levels[level.Name] = level.Value
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Levels returns a copy of the level cache
func (e *Evaluator) Levels() map[string]int {
	out := make(map[string]int, len(e.levels))
	for name, value := range e.levels {
		out[name] = value
	}
	return out
}

// HasPermission reports whether subject holds key at the requested level
// and target. acting is the user on whose behalf the check runs and only
// matters for SELF grants.
func (e *Evaluator) HasPermission(ctx context.Context, subject, acting *auth.User, key string, level, target *string) (bool, error) {
	if subject == nil || subject.ID <= 0 {
		return false, fmt.Errorf("%w: subject user is required", auth.ErrInvalidArgument)
	}
	if key == "" {
		return false, fmt.Errorf("%w: permission key is required", auth.ErrInvalidArgument)
	}

	allowed, err := e.hasPermission(ctx, subject, acting, key, level, target)
	e.observeCheck(ctx, key, allowed, err)
	return allowed, err
}

func (e *Evaluator) hasPermission(ctx context.Context, subject, acting *auth.User, key string, level, target *string) (bool, error) {
	grants, err := e.store.PermissionsForKey(ctx, subject.ID, key)
	if err != nil {
		return false, err
	}

	for i := range grants {
		if matchesTarget(&grants[i], target, subject, acting) && e.matchesLevel(&grants[i], level) {
			return true, nil
		}
	}
	return false, nil
}

// CheckPermission is HasPermission for a subject known only by id
func (e *Evaluator) CheckPermission(ctx context.Context, subjectID int64, acting *auth.User, key string, level, target *string) (bool, error) {
	return e.HasPermission(ctx, &auth.User{ID: subjectID}, acting, key, level, target)
}

// Check answers a PermissionCheck
func (e *Evaluator) Check(ctx context.Context, check PermissionCheck, acting *auth.User) (*PermissionCheckResult, error) {
	allowed, err := e.CheckPermission(ctx, check.SubjectID, acting, check.Permission, check.Level, check.Target)
	if err != nil {
		return nil, err
	}
	return &PermissionCheckResult{Allowed: allowed, CheckedAt: e.now().UTC()}, nil
}

// GrantPermission records a grant. The exact (user, key, target, level)
// tuple may be granted once; a repeat returns auth.ErrResourceAlreadyExists.
func (e *Evaluator) GrantPermission(ctx context.Context, userID int64, key string, target, level *string, grantedBy int64) (*UserPermission, error) {
	if userID <= 0 || key == "" {
		return nil, fmt.Errorf("%w: user id and permission key are required", auth.ErrInvalidArgument)
	}
	if level != nil {
		if _, ok := e.levels[*level]; !ok {
			return nil, fmt.Errorf("%w: unknown permission level %s", auth.ErrInvalidArgument, *level)
		}
	}

	perm := &UserPermission{
		UserID:             userID,
		PermissionLk:       key,
		PermissionTargetLk: target,
		PermissionLevelLk:  level,
		GrantedAt:          e.now().UTC(),
	}
	if grantedBy > 0 {
		perm.GrantedBy = &grantedBy
	}

	err := e.store.InTx(ctx, func(tx *Store) error {
		if _, err := tx.FindPermission(ctx, userID, key, target, level); err == nil {
			return fmt.Errorf("%w: permission %s already granted to user %d", auth.ErrResourceAlreadyExists, key, userID)
		} else if !isNotFound(err) {
			return err
		}
		return tx.InsertPermission(ctx, perm)
	})
	if err != nil {
		return nil, err
	}
	e.withLevelValue(perm)

	if e.metrics != nil {
		e.metrics.PermissionGrantsTotal.Inc()
	}
	e.logger.WithFields(map[string]interface{}{
		"user_id":    userID,
		"permission": key,
		"target":     deref(target),
		"level":      deref(level),
		"granted_by": grantedBy,
	}).Info("permission granted")
	return perm, nil
}

// RevokePermission deletes the grants matching the exact tuple and returns
// how many were removed
func (e *Evaluator) RevokePermission(ctx context.Context, userID int64, key string, target, level *string) (int64, error) {
	if userID <= 0 || key == "" {
		return 0, fmt.Errorf("%w: user id and permission key are required", auth.ErrInvalidArgument)
	}

	n, err := e.store.DeletePermissions(ctx, userID, key, target, level)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.WithFields(map[string]interface{}{
			"user_id":    userID,
			"permission": key,
			"revoked":    n,
		}).Info("permission revoked")
	}
	return n, nil
}

// UserPermissions lists the grants of userID with their level values
func (e *Evaluator) UserPermissions(ctx context.Context, userID int64) ([]UserPermission, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", auth.ErrInvalidArgument)
	}
	perms, err := e.store.PermissionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range perms {
		e.withLevelValue(&perms[i])
	}
	return perms, nil
}

// matchesTarget applies the target rule: both absent match, one absent does
// not, ALL always matches, SELF needs subject == acting, anything else is
// compared verbatim
func matchesTarget(grant *UserPermission, requested *string, subject, acting *auth.User) bool {
	granted := grant.PermissionTargetLk
	if granted == nil || requested == nil {
		return granted == nil && requested == nil
	}

	switch *granted {
	case TargetAll:
		return true
	case TargetSelf:
		return acting != nil && subject.ID == acting.ID
	default:
		return *granted == *requested
	}
}

// matchesLevel applies the bitmask rule: the granted level must contain
// every bit of the requested one. Unknown level names never match.
func (e *Evaluator) matchesLevel(grant *UserPermission, requested *string) bool {
	granted := grant.PermissionLevelLk
	if granted == nil || requested == nil {
		return granted == nil && requested == nil
	}

	have, ok := e.levels[*granted]
	if !ok {
		return false
	}
	want, ok := e.levels[*requested]
	if !ok {
		return false
	}
	return have&want == want
}

func (e *Evaluator) withLevelValue(perm *UserPermission) {
	if perm.PermissionLevelLk == nil {
		return
	}
	if v, ok := e.levels[*perm.PermissionLevelLk]; ok {
		perm.LevelValue = &v
	}
}

func (e *Evaluator) observeCheck(ctx context.Context, key string, allowed bool, err error) {
	if e.otel != nil && err == nil {
		e.otel.RecordPermissionCheck(ctx, key, allowed)
	}
	if e.metrics == nil {
		return
	}
	result := "denied"
	switch {
	case err != nil:
		result = "error"
	case allowed:
		result = "allowed"
	}
	e.metrics.PermissionChecksTotal.WithLabelValues(result).Inc()
}

func isNotFound(err error) bool {
	return errors.Is(err, auth.ErrResourceNotFound)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
