package rigid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gekko3d/rigid/boundstree"
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

type WorldConfig struct {
	Gravity mgl64.Vec3
	// TickRate is the number of fixed steps per second taken by Run.
	TickRate float64
	// ContactCorrection is the share of a penetration pushed out per tick.
	ContactCorrection float64
	// MaxDt caps a single step.
	MaxDt float64
	Debug bool
}

func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		Gravity:           mgl64.Vec3{0, -9.81, 0},
		TickRate:          60,
		ContactCorrection: 0.4,
		MaxDt:             0.1,
	}
}

func (c WorldConfig) Validate() error {
	if !geom.IsFiniteVec(c.Gravity) {
		return fmt.Errorf("%w: gravity %v", ErrInvalidConfig, c.Gravity)
	}
	if !(c.TickRate > 0) || math.IsInf(c.TickRate, 0) {
		return fmt.Errorf("%w: tick rate %v", ErrInvalidConfig, c.TickRate)
	}
	if !(c.ContactCorrection >= 0 && c.ContactCorrection <= 1) {
		return fmt.Errorf("%w: contact correction %v not in [0, 1]", ErrInvalidConfig, c.ContactCorrection)
	}
	if !(c.MaxDt > 0) || math.IsInf(c.MaxDt, 0) {
		return fmt.Errorf("%w: max dt %v", ErrInvalidConfig, c.MaxDt)
	}
	return nil
}

type Stats struct {
	Tick           uint64
	Time           float64
	Trees          int
	Parts          int
	CandidatePairs int
	Contacts       int
	TickDuration   time.Duration
}

// PartPlacement is a read-only copy of a part's placement for renderers.
type PartPlacement struct {
	ID       uuid.UUID
	Name     string
	Shape    geom.ShapeKind
	CFrame   geom.CFrame
	Bounds   geom.Bounds
	Anchored bool
}

// Snapshot is published after every tick and exclusive section. It is never
// mutated once published.
type Snapshot struct {
	Tick          uint64
	Time          float64
	Parts         []PartPlacement
	KineticEnergy float64
	Stats         Stats
}

// World drives every tree it holds. Mutations of a running world go through
// Submit or Exclusive; Snapshot, Stats and Submit are safe from any goroutine.
//
// Every mutation of a tree or part held by the world takes the world's lock,
// so a stopped world may also be changed directly, from any goroutine, between
// or during calls to Tick. Getters on trees and parts are not synchronised;
// concurrent readers use Snapshot or read inside Exclusive.
type World struct {
	cfg    WorldConfig
	logger Logger

	// section is held for the whole of a tick or an exclusive section and
	// orders them. mu is held by every single mutation and by the step itself.
	section   sync.Mutex
	mu        sync.Mutex
	exclusive atomic.Bool
	running   atomic.Bool
	closed    atomic.Bool

	queueMu sync.Mutex
	pending []pendingTask

	trees  []*MotorizedPhysical
	bounds *boundstree.Tree[*Part]
	stats  Stats

	snapshot atomic.Pointer[Snapshot]
}

// NewWorld validates cfg and builds an empty world. A nil logger logs to the
// standard streams.
func NewWorld(cfg WorldConfig, logger Logger) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NewDefaultLogger("rigid", cfg.Debug)
	}
	w := &World{
		cfg:    cfg,
		logger: logger,
		bounds: boundstree.New[*Part](),
	}
	w.publish()
	return w, nil
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) checkAccess() error {
	if w.closed.Load() {
		return ErrWorldClosed
	}
	if w.running.Load() && !w.exclusive.Load() {
		return ErrNotExclusive
	}
	return nil
}

// lockWorld locks the world current reports and keeps it locked only if the
// membership did not change while waiting. Nothing is locked for a nil world.
func lockWorld(current func() *World) (unlock func()) {
	for {
		w := current()
		if w == nil {
			return func() {}
		}
		w.mu.Lock()
		if current() == w {
			return w.mu.Unlock
		}
		w.mu.Unlock()
	}
}

// AddTree hands m over to the world.
func (w *World) AddTree(m *MotorizedPhysical) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addTree(m)
}

func (w *World) addTree(m *MotorizedPhysical) error {
	const op = "add tree"
	if err := w.checkAccess(); err != nil {
		return structureErr(op, err)
	}
	if !m.Valid() {
		return structureErr(op, ErrInvalidPhysical)
	}
	if m.world.Load() != nil {
		return structureErr(op, ErrForeignWorld)
	}
	w.registerTree(m)
	w.logger.Debugf("added tree with %d parts", m.PartCount())
	return nil
}

// AddPart puts a free part into the world as its own tree.
func (w *World) AddPart(part *Part, anchored bool) (*MotorizedPhysical, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkAccess(); err != nil {
		return nil, structureErr("add part", err)
	}
	m, err := NewMotorizedPhysical(part)
	if err != nil {
		return nil, err
	}
	m.anchored = anchored
	if err := w.addTree(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RemoveTree takes m out of the world. The tree stays usable on its own.
func (w *World) RemoveTree(m *MotorizedPhysical) error {
	const op = "remove tree"
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkAccess(); err != nil {
		return structureErr(op, err)
	}
	if !m.Valid() || m.world.Load() != w {
		return structureErr(op, ErrInvalidPhysical)
	}
	for part := range m.Parts() {
		w.untrackPart(part)
	}
	w.forgetTree(m)
	return nil
}

// Trees returns the trees currently in the world.
func (w *World) Trees() []*MotorizedPhysical {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.trees)
}

func (w *World) PartCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bounds.Len()
}

func (w *World) registerTree(m *MotorizedPhysical) {
	m.world.Store(w)
	w.trees = append(w.trees, m)
	w.trackTree(m)
}

// forgetTree drops m from the tree list without touching the broad phase:
// its parts may already belong to another tree.
func (w *World) forgetTree(m *MotorizedPhysical) {
	w.trees = slices.DeleteFunc(w.trees, func(t *MotorizedPhysical) bool { return t == m })
	m.world.Store(nil)
}

func (w *World) trackTree(m *MotorizedPhysical) {
	for part := range m.Parts() {
		if w.bounds.Contains(part) {
			w.updatePartBounds(part)
			continue
		}
		w.trackPart(part)
	}
}

func (w *World) trackPart(p *Part) {
	if !w.bounds.Contains(p) {
		err := w.bounds.Add(p, p.Bounds())
		invariant(err == nil, "tracking part %s: %v", p.ID, err)
	}
	p.world.Store(w)
}

func (w *World) untrackPart(p *Part) {
	if w.bounds.Contains(p) {
		err := w.bounds.Remove(p)
		invariant(err == nil, "untracking part %s: %v", p.ID, err)
	}
	p.world.Store(nil)
}

func (w *World) updatePartBounds(p *Part) {
	err := w.bounds.UpdateBounds(p, p.Bounds())
	invariant(err == nil, "part %s missing from the broad phase: %v", p.ID, err)
}

// Tick runs queued tasks, then advances the world by dt seconds (capped at
// MaxDt) and publishes a snapshot.
func (w *World) Tick(dt float64) error {
	if w.closed.Load() {
		return ErrWorldClosed
	}
	w.section.Lock()
	defer w.section.Unlock()
	w.exclusive.Store(true)
	w.flushPending()
	w.exclusive.Store(false)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.step(dt)
	w.publish()
	return nil
}

func (w *World) step(dt float64) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		w.logger.Debugf("skipping tick with dt %v", dt)
		return
	}
	dt = min(dt, w.cfg.MaxDt)
	start := time.Now()

	for _, m := range w.trees {
		if !m.anchored {
			m.applyForce(mgl64.Vec3{}, w.cfg.Gravity.Mul(m.totalMass))
		}
	}
	for _, m := range w.trees {
		m.update(dt)
	}
	contacts := w.findContacts()
	for _, c := range contacts {
		w.resolveContact(c)
	}

	w.stats.Tick++
	w.stats.Time += dt
	w.stats.Trees = len(w.trees)
	w.stats.Parts = w.bounds.Len()
	w.stats.TickDuration = time.Since(start)
}

// Run steps the world at the configured tick rate until ctx is done or the
// world is closed.
func (w *World) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer w.running.Store(false)

	interval := time.Duration(float64(time.Second) / w.cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dt := 1 / w.cfg.TickRate // fixed dt for stability
	clock := NewClock(time.Now())
	w.logger.Infof("running at %v ticks per second", w.cfg.TickRate)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			clock.Advance(now)
			if clock.Dt > 2*interval {
				w.logger.Debugf("tick late: %v since the previous one", clock.Dt)
			}
			if err := w.Tick(dt); err != nil {
				if errors.Is(err, ErrWorldClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// Close stops Run and fails every queued task.
func (w *World) Close() {
	w.queueMu.Lock()
	already := w.closed.Swap(true)
	w.queueMu.Unlock()
	if already {
		return
	}
	w.failPending(ErrWorldClosed)
	w.logger.Infof("world closed after %d ticks", w.Stats().Tick)
}

func (w *World) publish() {
	snap := &Snapshot{
		Tick:  w.stats.Tick,
		Time:  w.stats.Time,
		Stats: w.stats,
		Parts: make([]PartPlacement, 0, w.bounds.Len()),
	}
	for _, m := range w.trees {
		snap.KineticEnergy += m.KineticEnergy()
		for part := range m.Parts() {
			kind, _ := geom.KindOf(part.shape)
			snap.Parts = append(snap.Parts, PartPlacement{
				ID:       part.ID,
				Name:     part.Name,
				Shape:    kind,
				CFrame:   part.cframe,
				Bounds:   part.Bounds(),
				Anchored: m.anchored,
			})
		}
	}
	w.snapshot.Store(snap)
}

// Snapshot returns the placements published by the latest tick.
func (w *World) Snapshot() *Snapshot {
	return w.snapshot.Load()
}

func (w *World) Stats() Stats {
	return w.Snapshot().Stats
}

// Pick returns the nearest part hit by ray and the distance to it.
func (w *World) Pick(ray geom.Ray) (*Part, float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var best *Part
	bestDist := math.Inf(1)
	for part, entry := range w.bounds.RayCast(ray) {
		if entry > bestDist {
			continue
		}
		if d, ok := part.IntersectsRay(ray); ok && d < bestDist {
			best, bestDist = part, d
		}
	}
	return best, bestDist, best != nil
}

// Validate checks every tree and the broad phase against the parts it tracks.
func (w *World) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bounds.Validate(); err != nil {
		return err
	}
	count := 0
	for _, m := range w.trees {
		if m.world.Load() != w {
			return fmt.Errorf("rigid: tree listed by a world it does not point to")
		}
		if err := m.validate(); err != nil {
			return err
		}
		for part := range m.Parts() {
			b, ok := w.bounds.Bounds(part)
			if !ok {
				return fmt.Errorf("rigid: part %s is not in the broad phase", part.ID)
			}
			if b != part.Bounds() {
				return fmt.Errorf("rigid: broad phase bounds of part %s are stale", part.ID)
			}
			count++
		}
	}
	if count != w.bounds.Len() {
		return fmt.Errorf("rigid: broad phase tracks %d parts, trees hold %d", w.bounds.Len(), count)
	}
	return nil
}
