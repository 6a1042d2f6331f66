package config

import (
	"path/filepath"
	"testing"

	"github.com/gekko3d/rigid"
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultScene(t *testing.T) {
	s := DefaultScene()
	require.NoError(t, s.Validate())
	assert.Equal(t, DefaultTickRate, s.World.TickRate)
	assert.Greater(t, s.Duration, 0.0)

	w, err := s.Build(rigid.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, len(s.Parts), w.PartCount())
	require.NoError(t, w.Validate())
}

func TestParseKeepsWorldDefaults(t *testing.T) {
	s, err := Parse([]byte(`
name: ramp
parts:
  - name: floor
    shape: box
    size: [10, 1, 10]
    position: [0, -0.5, 0]
    anchored: true
  - name: ball
    shape: sphere
    radius: 0.5
    position: [0, 2, 0]
    velocity: [1, 0, 0]
`))
	require.NoError(t, err)
	assert.Equal(t, "ramp", s.Name)
	assert.Equal(t, DefaultWorld(), s.World)
	require.Len(t, s.Parts, 2)
	assert.Equal(t, 0.5, s.Parts[1].Radius)

	w, err := s.Build(rigid.NewNopLogger())
	require.NoError(t, err)
	trees := w.Trees()
	require.Len(t, trees, 2)
	assert.True(t, trees[0].Anchored())
	assert.Equal(t, mgl64.Vec3{1, 0, 0}, trees[1].Motion().Velocity)
	assert.InDelta(t, DefaultDensity, trees[1].Main().Body().MainPart().Properties().Density, 1e-12)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.yaml")
	want := GetPreset("windmill")
	require.NotNil(t, want)
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadScenes(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Scene)
	}{
		{"unknown shape", func(s *Scene) { s.Parts[1].Shape = "cone" }},
		{"flat box", func(s *Scene) { s.Parts[1].Size = [3]float64{1, 0, 1} }},
		{"duplicate name", func(s *Scene) { s.Parts[2].Name = "crate" }},
		{"weld to later part", func(s *Scene) { s.Parts[1].WeldTo = "ball" }},
		{"negative density", func(s *Scene) { s.Parts[2].Density = -1 }},
		{"bad tick rate", func(s *Scene) { s.World.TickRate = 0 }},
		{"unknown joint part", func(s *Scene) { s.Joints = []JointConfig{{Parent: "crate", Child: "nope"}} }},
		{"self joint", func(s *Scene) { s.Joints = []JointConfig{{Parent: "crate", Child: "crate"}} }},
		{"unknown joint type", func(s *Scene) { s.Joints = []JointConfig{{Type: "hinge", Parent: "crate", Child: "ball"}} }},
		{"inverted piston", func(s *Scene) {
			s.Joints = []JointConfig{{Type: "piston", Parent: "crate", Child: "ball", Min: 2, Max: 1}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultScene()
			tt.edit(s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidScene)
			_, err := s.Build(rigid.NewNopLogger())
			assert.ErrorIs(t, err, ErrInvalidScene)
		})
	}
}

func TestBuildWeldsAndJoints(t *testing.T) {
	s := GetPreset("windmill")
	w, err := s.Build(rigid.NewNopLogger())
	require.NoError(t, err)

	// ground, plus tower joined with the hub and its blades
	trees := w.Trees()
	require.Len(t, trees, 2)
	var mill *rigid.MotorizedPhysical
	for _, m := range trees {
		if m.PartCount() == 4 {
			mill = m
		}
	}
	require.NotNil(t, mill)
	assert.True(t, mill.Anchored())
	require.NoError(t, w.Validate())

	var hub *rigid.Part
	for part := range mill.Parts() {
		if part.Name == "hub" {
			hub = part
		}
	}
	require.NotNil(t, hub)
	ph, ok := hub.Physical()
	require.True(t, ok)
	assert.Equal(t, rigid.RoleConnected, ph.Role())
	assert.Equal(t, 3, ph.Body().PartCount())
	assert.True(t, geom.ApproxEqualVec(mgl64.Vec3{0, 4, 0.5}, hub.Position(), 1e-9), "hub at %v", hub.Position())

	before := hub.CFrame()
	for i := 0; i < 30; i++ {
		require.NoError(t, w.Tick(1.0/60))
	}
	assert.True(t, geom.ApproxEqualVec(before.Position, hub.Position(), 1e-9))
	assert.False(t, before.ApproxEqual(hub.CFrame(), 1e-3))
	require.NoError(t, w.Validate())
}

func TestPresets(t *testing.T) {
	names := ListPresets()
	require.NotEmpty(t, names)
	assert.IsIncreasing(t, names)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			s := GetPreset(name)
			require.NotNil(t, s)
			w, err := s.Build(rigid.NewNopLogger())
			require.NoError(t, err)
			for i := 0; i < 10; i++ {
				require.NoError(t, w.Tick(1.0/60))
			}
			require.NoError(t, w.Validate())
		})
	}

	assert.Nil(t, GetPreset("nonexistent"))

	dup := GetPreset("drop")
	dup.Parts[0].Name = "changed"
	assert.Equal(t, "ground", Presets["drop"].Parts[0].Name)
}
