package roleguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roleguard/roleguard/logger"
)

const (
	defaultHistoryCap   = 50
	defaultWarmupBuffer = 64
)

// ErrUnknownPrincipal is returned for operations against a principal that
// was never bootstrapped or has logged out.
var ErrUnknownPrincipal = errors.New("unknown principal")

// SwitchResult is delivered on the channel returned by SwitchRoleAsync.
type SwitchResult struct {
	Info *PrincipalRoleInfo
	Err  error
}

type warmupTask struct {
	principalID string
	kind        RoleKind
}

// SwitchCoordinator owns per-principal role state and serializes role-switch
// requests: at most one switch in flight per principal, concurrent identical
// requests coalesced into a single state mutation. It is the only component
// that mutates PrincipalRoleInfo after bootstrap.
type SwitchCoordinator struct {
	machine *RoleStateMachine
	cache   *CacheTier
	bus     *EventBus
	limiter *switchRateLimiter
	flight  singleflight.Group
	log     logger.Logger

	mu         sync.RWMutex
	principals map[string]*PrincipalRoleInfo
	locks      map[string]*sync.Mutex
	historyCap int

	// warmup runs off the switch path after a successful transition, e.g.
	// preloading the new role's permission set into the cache.
	warmup  func(ctx context.Context, principalID string, kind RoleKind)
	tasks   chan warmupTask
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	started bool
}

// NewSwitchCoordinator wires the coordinator. machine and bus must be
// non-nil; cache may be nil (invalidation becomes a no-op).
func NewSwitchCoordinator(machine *RoleStateMachine, cache *CacheTier, bus *EventBus, log logger.Logger) *SwitchCoordinator {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &SwitchCoordinator{
		machine:    machine,
		cache:      cache,
		bus:        bus,
		limiter:    newSwitchRateLimiter(defaultSwitchLimit, defaultSwitchWindow),
		log:        log,
		principals: make(map[string]*PrincipalRoleInfo),
		locks:      make(map[string]*sync.Mutex),
		historyCap: defaultHistoryCap,
	}
}

// SetRateLimit replaces the sliding-window switch limit.
func (c *SwitchCoordinator) SetRateLimit(limit int, window time.Duration) {
	c.limiter = newSwitchRateLimiter(limit, window)
}

// SetHistoryCap bounds the per-principal switch record list. Values below 1
// are ignored.
func (c *SwitchCoordinator) SetHistoryCap(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	c.historyCap = n
	c.mu.Unlock()
}

// SetWarmup installs the post-switch housekeeping hook. Call before Start.
func (c *SwitchCoordinator) SetWarmup(fn func(ctx context.Context, principalID string, kind RoleKind)) {
	c.warmup = fn
}

// Start launches the housekeeping worker that runs warmups off the switch
// path. Safe to skip entirely: switches work without it.
func (c *SwitchCoordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.tasks = make(chan warmupTask, defaultWarmupBuffer)
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.housekeepingLoop()
}

// Stop drains the housekeeping worker. Idempotent.
func (c *SwitchCoordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.stopped.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
	})
}

func (c *SwitchCoordinator) housekeepingLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case task := <-c.tasks:
			if c.warmup != nil {
				c.runWarmup(task)
			}
		}
	}
}

func (c *SwitchCoordinator) runWarmup(task warmupTask) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("warmup panic", "principal", task.principalID, "kind", string(task.kind), "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.warmup(ctx, task.principalID, task.kind)
}

func (c *SwitchCoordinator) queueWarmup(principalID string, kind RoleKind) {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started || c.warmup == nil {
		return
	}
	select {
	case c.tasks <- warmupTask{principalID: principalID, kind: kind}:
	default:
		c.log.Debug("warmup queue full, skipping", "principal", principalID)
	}
}

// ============================================================================
// PRINCIPAL REGISTRY
// ============================================================================

// Register installs or replaces a principal's role state.
func (c *SwitchCoordinator) Register(info *PrincipalRoleInfo) {
	if info == nil || info.PrincipalID == "" {
		return
	}
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = time.Now()
	}
	c.mu.Lock()
	c.principals[info.PrincipalID] = info
	c.mu.Unlock()
}

// Principal returns a copy of the principal's state.
func (c *SwitchCoordinator) Principal(principalID string) (*PrincipalRoleInfo, bool) {
	c.mu.RLock()
	info, ok := c.principals[principalID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return info.Clone(), true
}

// Remove drops a principal entirely: state, rate-limit window, and cache
// entries (logout).
func (c *SwitchCoordinator) Remove(ctx context.Context, principalID string) {
	c.mu.Lock()
	delete(c.principals, principalID)
	delete(c.locks, principalID)
	c.mu.Unlock()
	c.limiter.reset(principalID)
	c.invalidatePrincipal(ctx, principalID)
}

// AddRole appends a role to the principal's available set, replacing any
// existing role of the same kind.
func (c *SwitchCoordinator) AddRole(principalID string, role *Role) error {
	if role == nil {
		return errors.New("nil role")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.principals[principalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
	}
	for i, r := range info.Available {
		if r != nil && r.Kind == role.Kind {
			info.Available[i] = role
			info.UpdatedAt = time.Now()
			return nil
		}
	}
	info.Available = append(info.Available, role)
	info.UpdatedAt = time.Now()
	return nil
}

// RemoveRole drops a role kind from the available set. Removing the current
// role is rejected: switch away first.
func (c *SwitchCoordinator) RemoveRole(principalID string, kind RoleKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.principals[principalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
	}
	if info.Current != nil && info.Current.Kind == kind {
		return fmt.Errorf("cannot remove the current role %s for %s", kind, principalID)
	}
	kept := info.Available[:0]
	for _, r := range info.Available {
		if r == nil || r.Kind != kind {
			kept = append(kept, r)
		}
	}
	info.Available = kept
	info.UpdatedAt = time.Now()
	return nil
}

// History returns the most recent switch records, oldest first. limit <= 0
// returns everything.
func (c *SwitchCoordinator) History(principalID string, limit int) []SwitchRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.principals[principalID]
	if !ok {
		return nil
	}
	history := info.History
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]SwitchRecord(nil), history...)
}

func (c *SwitchCoordinator) principalLock(principalID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[principalID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[principalID] = lock
	}
	return lock
}

// ============================================================================
// SWITCHING
// ============================================================================

// switchReasonKey carries the caller-supplied switch reason to enter hooks.
type switchReasonKey struct{}

// SwitchReason returns the reason of the switch driving the hooks on ctx,
// or "" outside a switch.
func SwitchReason(ctx context.Context) string {
	reason, _ := ctx.Value(switchReasonKey{}).(string)
	return reason
}

// SwitchRole transitions the principal to the target role kind. reason is
// recorded on the attempt's SwitchRecord and forwarded to enter hooks via
// SwitchReason. Coalescing is keyed on (principal, target): concurrent
// requests for the same target share one state mutation and outcome, carrying
// the first caller's reason, while requests for a different target of the
// same principal serialize behind the per-principal lock. A caller whose
// context expires while waiting gets the context error while the in-flight
// switch runs to completion.
func (c *SwitchCoordinator) SwitchRole(ctx context.Context, principalID string, target RoleKind, reason string) (*PrincipalRoleInfo, error) {
	key := principalID + "\x00" + string(target)
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.performSwitch(context.WithoutCancel(ctx), principalID, target, reason)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PrincipalRoleInfo), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for role switch of %s: %w", principalID, ctx.Err())
	}
}

// SwitchRoleAsync starts the switch and returns immediately; the buffered
// channel delivers the outcome once.
func (c *SwitchCoordinator) SwitchRoleAsync(ctx context.Context, principalID string, target RoleKind, reason string) <-chan SwitchResult {
	out := make(chan SwitchResult, 1)
	go func() {
		info, err := c.SwitchRole(ctx, principalID, target, reason)
		out <- SwitchResult{Info: info, Err: err}
		close(out)
	}()
	return out
}

// performSwitch runs pre-flight checks, drives the state machine, and keeps
// the published ordering: cache invalidation happens before the success
// event, which happens before the result is returned.
func (c *SwitchCoordinator) performSwitch(ctx context.Context, principalID string, target RoleKind, reason string) (*PrincipalRoleInfo, error) {
	lock := c.principalLock(principalID)
	lock.Lock()
	defer lock.Unlock()

	ctx = context.WithValue(ctx, switchReasonKey{}, reason)
	now := time.Now()

	c.mu.RLock()
	info, ok := c.principals[principalID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
	}
	from := info.CurrentKind()

	// Pre-flight: nothing below this block mutates state on rejection.
	if allowed, retry := c.limiter.allow(principalID, now); !allowed {
		return nil, &RateLimitError{PrincipalID: principalID, RetryAfter: retry}
	}
	targetRole := info.FindAvailable(target)
	if targetRole == nil || !targetRole.Eligible(now) {
		return nil, &RoleUnavailableError{PrincipalID: principalID, Target: target}
	}
	if !c.machine.CanTransition(from, target) {
		return nil, &IllegalTransitionError{From: from, To: target, LegalTargets: c.machine.LegalTargets(from)}
	}

	start := Event{Kind: EventSwitchStart, PrincipalID: principalID, From: from, To: target, Reason: reason, Timestamp: now}
	if !c.bus.CheckVetoes(start) {
		return nil, fmt.Errorf("role switch %s -> %s for %s vetoed", from, target, principalID)
	}
	c.bus.Publish(start)

	prev := info.Current
	if err := c.machine.Exit(ctx, principalID, prev); err != nil {
		return nil, c.failSwitch(principalID, from, target, err)
	}

	c.mu.Lock()
	info.Current = targetRole
	c.mu.Unlock()

	if err := c.machine.Enter(ctx, principalID, targetRole); err != nil {
		c.mu.Lock()
		info.Current = prev
		c.mu.Unlock()
		return nil, c.failSwitch(principalID, from, target, err)
	}

	c.mu.Lock()
	c.appendHistory(info, SwitchRecord{From: from, To: target, Reason: reason, Timestamp: now, Success: true})
	info.UpdatedAt = time.Now()
	snapshot := info.Clone()
	c.mu.Unlock()

	c.invalidatePrincipal(ctx, principalID)

	c.bus.Publish(Event{Kind: EventSwitchSuccess, PrincipalID: principalID, From: from, To: target, Reason: reason})
	c.log.Info("role switched", "principal", principalID, "from", string(from), "to", string(target))

	c.queueWarmup(principalID, target)
	return snapshot, nil
}

// failSwitch records a failed attempt that passed pre-flight, publishes the
// failure, and wraps the cause.
func (c *SwitchCoordinator) failSwitch(principalID string, from, to RoleKind, cause error) error {
	c.mu.Lock()
	if info, ok := c.principals[principalID]; ok {
		c.appendHistory(info, SwitchRecord{From: from, To: to, Timestamp: time.Now(), Reason: cause.Error(), Success: false})
	}
	c.mu.Unlock()

	c.bus.Publish(Event{Kind: EventSwitchFailed, PrincipalID: principalID, From: from, To: to, Err: cause})
	c.log.Error("role switch failed", "principal", principalID, "from", string(from), "to", string(to), "error", cause.Error())
	return fmt.Errorf("switching %s from %s to %s: %w", principalID, from, to, cause)
}

// appendHistory caps the per-principal record list, dropping oldest entries.
// Callers hold c.mu.
func (c *SwitchCoordinator) appendHistory(info *PrincipalRoleInfo, rec SwitchRecord) {
	info.History = append(info.History, rec)
	if len(info.History) > c.historyCap {
		info.History = info.History[len(info.History)-c.historyCap:]
	}
}

// invalidatePrincipal drops every cached decision and the cached role entry
// for one principal.
func (c *SwitchCoordinator) invalidatePrincipal(ctx context.Context, principalID string) {
	if c.cache == nil {
		return
	}
	c.cache.DeleteByPattern(ctx, principalCachePattern(principalID))
	c.cache.Delete(ctx, userRoleCacheKey(principalID))
}
