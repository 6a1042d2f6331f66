package rigid

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorldConfigValidate(t *testing.T) {
	require.NoError(t, DefaultWorldConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*WorldConfig)
	}{
		{"zero tick rate", func(c *WorldConfig) { c.TickRate = 0 }},
		{"negative max dt", func(c *WorldConfig) { c.MaxDt = -1 }},
		{"correction above one", func(c *WorldConfig) { c.ContactCorrection = 1.5 }},
		{"nan gravity", func(c *WorldConfig) { c.Gravity = mgl64.Vec3{0, math.NaN(), 0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultWorldConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
			_, err := NewWorld(cfg, nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestWorldFallsUnderGravity(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec3{0, -10, 0})
	m, err := w.AddPart(newBoxPart(0, 10, 0), false)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Tick(0.1))
	}

	assert.Less(t, m.CFrame().Position.Y(), 10.0)
	assert.InDelta(t, -10.0, m.Motion().Velocity.Y(), 1e-9)
	assert.Equal(t, uint64(10), w.Stats().Tick)
	assert.InDelta(t, 1.0, w.Stats().Time, 1e-9)
	require.NoError(t, w.Validate())
}

func TestTickCapsAndSkipsDt(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec3{0, -10, 0})
	m, err := w.AddPart(newBoxPart(0, 0, 0), false)
	require.NoError(t, err)

	require.NoError(t, w.Tick(5))
	assert.InDelta(t, w.Config().MaxDt, w.Stats().Time, 1e-12)

	require.NoError(t, w.Tick(-1))
	require.NoError(t, w.Tick(0))
	assert.Equal(t, uint64(1), w.Stats().Tick)
	assert.InDelta(t, -1.0, m.Motion().Velocity.Y(), 1e-9)
}

func TestWorldStructureKeepsBroadPhaseInSync(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec3{})
	a, err := w.AddPart(newBoxPart(0, 0, 0), false)
	require.NoError(t, err)
	bPart := newBoxPart(5, 0, 0)
	b, err := w.AddPart(bPart, false)
	require.NoError(t, err)
	assert.Len(t, w.Trees(), 2)

	assert.ErrorIs(t, w.AddTree(a), ErrForeignWorld)

	h, err := a.Main().AttachPhysical(b.Main(), &FixedConstraint{}, geom.CFrameAt(3, 0, 0), geom.IdentityCFrame())
	require.NoError(t, err)
	assert.Len(t, w.Trees(), 1)
	assert.Equal(t, 2, w.PartCount())
	require.NoError(t, w.Validate())

	extra := newBoxPart(0, 0, 0)
	require.NoError(t, h.AttachPart(extra, geom.CFrameAt(0, 1, 0)))
	assert.Equal(t, 3, w.PartCount())
	require.NoError(t, w.Validate())

	nt, err := h.DetachPart(extra, true)
	require.NoError(t, err)
	assert.Equal(t, w, nt.World())
	assert.Len(t, w.Trees(), 2)
	require.NoError(t, w.Validate())

	split, err := h.Detach()
	require.NoError(t, err)
	assert.Equal(t, w, split.World())
	assert.Len(t, w.Trees(), 3)
	require.NoError(t, w.Validate())

	a.Translate(mgl64.Vec3{0, 4, 0})
	require.NoError(t, w.Validate())

	require.NoError(t, w.RemoveTree(split))
	assert.Nil(t, split.World())
	assert.Equal(t, 2, w.PartCount())
	require.NoError(t, w.Validate())

	_, err = nt.Main().DetachPart(extra, false)
	require.NoError(t, err)
	assert.False(t, nt.Valid())
	assert.Len(t, w.Trees(), 1)
	assert.Equal(t, 1, w.PartCount())
	require.NoError(t, w.Validate())
}

func TestSubmitRunsInOrderAtTickBoundary(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec3{})
	var order []int
	var results []<-chan error
	for i := 1; i <= 3; i++ {
		results = append(results, w.Submit(func(*World) error {
			order = append(order, i)
			return nil
		}))
	}
	failing := w.Submit(func(*World) error { return ErrPartNotFound })
	assert.Empty(t, order)

	require.NoError(t, w.Tick(0.01))
	assert.Equal(t, []int{1, 2, 3}, order)
	for _, ch := range results {
		assert.NoError(t, <-ch)
	}
	assert.ErrorIs(t, <-failing, ErrPartNotFound)
}

func TestCloseFailsPendingAndLaterWork(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec3{})
	pending := w.Submit(func(*World) error { return nil })

	w.Close()
	w.Close()
	assert.ErrorIs(t, <-pending, ErrWorldClosed)
	assert.ErrorIs(t, <-w.Submit(func(*World) error { return nil }), ErrWorldClosed)
	assert.ErrorIs(t, w.Tick(0.01), ErrWorldClosed)
	assert.ErrorIs(t, w.Exclusive(func(*World) error { return nil }), ErrWorldClosed)

	_, err := w.AddPart(newBoxPart(0, 0, 0), false)
	assert.ErrorIs(t, err, ErrWorldClosed)
}

func TestRunningWorldRequiresExclusiveAccess(t *testing.T) {
	// one tick per second leaves the first second free of ticks
	cfg := DefaultWorldConfig()
	cfg.TickRate = 1
	w, err := NewWorld(cfg, NewNopLogger())
	require.NoError(t, err)
	m, err := w.AddPart(newBoxPart(0, 0, 0), false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return w.running.Load() }, time.Second, time.Millisecond)

	assert.ErrorIs(t, w.Run(ctx), ErrAlreadyRunning)
	assert.ErrorIs(t, m.SetAnchored(true), ErrNotExclusive)
	assert.ErrorIs(t, m.Main().AttachPart(newBoxPart(0, 0, 0), geom.CFrameAt(1, 0, 0)), ErrNotExclusive)
	assert.Equal(t, 1, w.PartCount())

	require.NoError(t, w.Exclusive(func(w *World) error {
		return m.Main().AttachPart(newBoxPart(0, 0, 0), geom.CFrameAt(1, 0, 0))
	}))
	assert.Len(t, w.Snapshot().Parts, 2)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NotNil(t, w.Snapshot())
			}
		}()
	}
	anchored := w.Submit(func(*World) error { return m.SetAnchored(true) })
	wg.Wait()

	select {
	case err := <-anchored:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("submitted task never ran")
	}
	require.Eventually(t, func() bool { return w.Stats().Tick >= 1 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
	assert.True(t, m.Anchored())
	require.NoError(t, w.Exclusive(func(w *World) error { return w.Validate() }))
	assert.Equal(t, 2, w.PartCount())
}

func TestDirectMutationsSerializeWithTicks(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec3{0, -10, 0})
	m, err := w.AddPart(newBoxPart(0, 0, 0), false)
	require.NoError(t, err)

	const ticks = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < ticks; i++ {
			assert.NoError(t, w.Tick(0.01))
		}
	}()

	down := geom.Ray{Start: mgl64.Vec3{0, 100, 0}, Direction: mgl64.Vec3{0, -1, 0}}
	for i := 1; i <= 50; i++ {
		part := NewPart(geom.NewBox(1, 1, 1), geom.IdentityCFrame(), DefaultPartProperties())
		require.NoError(t, m.Main().AttachPart(part, geom.CFrameAt(float64(i), 0, 0)))
		m.ApplyImpulseAtCenterOfMass(mgl64.Vec3{0, 1, 0})
		assert.Len(t, w.Trees(), 1)
		w.Pick(down)
	}
	<-done

	assert.Equal(t, uint64(ticks), w.Stats().Tick)
	assert.Equal(t, 51, w.PartCount())
	require.NoError(t, w.Validate())
}

func TestRunStopsOnClose(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec3{})
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	require.Eventually(t, func() bool { return w.running.Load() }, time.Second, time.Millisecond)

	w.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestSnapshotsArePublishedPerTick(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec3{0, -10, 0})
	initial := w.Snapshot()
	require.NotNil(t, initial)
	assert.Empty(t, initial.Parts)

	part := newBoxPart(0, 0, 0)
	part.Name = "crate"
	_, err := w.AddPart(part, false)
	require.NoError(t, err)
	floorPart := NewPart(geom.NewBox(4, 1, 4), geom.CFrameAt(0, -5, 0), DefaultPartProperties())
	_, err = w.AddPart(floorPart, true)
	require.NoError(t, err)

	require.NoError(t, w.Tick(0.1))
	first := w.Snapshot()
	require.Len(t, first.Parts, 2)
	assert.Equal(t, uint64(1), first.Tick)
	assert.Greater(t, first.KineticEnergy, 0.0)

	byID := map[string]PartPlacement{}
	for _, p := range first.Parts {
		byID[p.ID.String()] = p
	}
	crate := byID[part.ID.String()]
	assert.Equal(t, "crate", crate.Name)
	assert.Equal(t, geom.ShapeBox, crate.Shape)
	assert.False(t, crate.Anchored)
	assert.Equal(t, part.CFrame(), crate.CFrame)
	assert.True(t, byID[floorPart.ID.String()].Anchored)

	require.NoError(t, w.Tick(0.1))
	assert.Equal(t, uint64(1), first.Tick)
	assert.Equal(t, uint64(2), w.Snapshot().Tick)
	assert.NotEqual(t, first.Parts[0].CFrame, w.Snapshot().Parts[0].CFrame)
}

func TestPickReturnsNearestPart(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec3{})
	near := newBoxPart(5, 0, 0)
	far := NewPart(geom.NewSphere(1), geom.CFrameAt(10, 0, 0), DefaultPartProperties())
	_, err := w.AddPart(far, false)
	require.NoError(t, err)
	_, err = w.AddPart(near, false)
	require.NoError(t, err)

	ray := geom.Ray{Start: mgl64.Vec3{}, Direction: mgl64.Vec3{1, 0, 0}}
	hit, dist, ok := w.Pick(ray)
	require.True(t, ok)
	assert.Equal(t, near, hit)
	assert.InDelta(t, 4.5, dist, 1e-9)

	_, _, ok = w.Pick(geom.Ray{Start: mgl64.Vec3{}, Direction: mgl64.Vec3{0, 1, 0}})
	assert.False(t, ok)

	hit, dist, ok = w.Pick(geom.Ray{Start: mgl64.Vec3{10, 5, 0}, Direction: mgl64.Vec3{0, -1, 0}})
	require.True(t, ok)
	assert.Equal(t, far, hit)
	assert.InDelta(t, 4.0, dist, 1e-9)
}
