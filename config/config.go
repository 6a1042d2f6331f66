package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/gekko3d/rigid"
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTickRate          = 60.0
	DefaultContactCorrection = 0.4
	DefaultMaxDt             = 0.1
	DefaultGravity           = -9.81
	DefaultDensity           = 1.0
)

var ErrInvalidScene = errors.New("config: invalid scene")

type Scene struct {
	Name     string        `yaml:"name"`
	Duration float64       `yaml:"duration"`
	World    WorldConfig   `yaml:"world"`
	Parts    []PartConfig  `yaml:"parts"`
	Joints   []JointConfig `yaml:"joints,omitempty"`
}

type WorldConfig struct {
	Gravity           [3]float64 `yaml:"gravity"`
	TickRate          float64    `yaml:"tick_rate"`
	ContactCorrection float64    `yaml:"contact_correction"`
	MaxDt             float64    `yaml:"max_dt"`
	Debug             bool       `yaml:"debug"`
}

// PartConfig describes one part. Parts with WeldTo join the rigid body of an
// earlier part; the others start a tree of their own.
type PartConfig struct {
	Name   string     `yaml:"name"`
	Shape  string     `yaml:"shape"`
	Size   [3]float64 `yaml:"size,omitempty"`
	Radius float64    `yaml:"radius,omitempty"`

	Position [3]float64 `yaml:"position"`
	// Rotation is an axis-angle vector in radians.
	Rotation [3]float64 `yaml:"rotation,omitempty"`

	// Density 0 means DefaultDensity.
	Density    float64    `yaml:"density,omitempty"`
	Friction   float64    `yaml:"friction"`
	Bounciness float64    `yaml:"bounciness"`
	Conveyor   [3]float64 `yaml:"conveyor,omitempty"`

	Anchored bool       `yaml:"anchored,omitempty"`
	WeldTo   string     `yaml:"weld_to,omitempty"`
	Velocity [3]float64 `yaml:"velocity,omitempty"`
}

// JointConfig joins the tree of Child below Parent. Attachment frames are
// offsets in each part's local space.
type JointConfig struct {
	Type         string     `yaml:"type"`
	Parent       string     `yaml:"parent"`
	Child        string     `yaml:"child"`
	ParentAttach [3]float64 `yaml:"parent_attach"`
	ChildAttach  [3]float64 `yaml:"child_attach"`
	Speed        float64    `yaml:"speed,omitempty"`
	Min          float64    `yaml:"min,omitempty"`
	Max          float64    `yaml:"max,omitempty"`
}

func DefaultWorld() WorldConfig {
	return WorldConfig{
		Gravity:           [3]float64{0, DefaultGravity, 0},
		TickRate:          DefaultTickRate,
		ContactCorrection: DefaultContactCorrection,
		MaxDt:             DefaultMaxDt,
	}
}

func DefaultScene() *Scene {
	return &Scene{
		Name:     "default",
		Duration: 5,
		World:    DefaultWorld(),
		Parts: []PartConfig{
			{Name: "ground", Shape: "box", Size: [3]float64{20, 1, 20}, Position: [3]float64{0, -0.5, 0}, Friction: 0.6, Anchored: true},
			{Name: "crate", Shape: "box", Size: [3]float64{1, 1, 1}, Position: [3]float64{0, 3, 0}, Friction: 0.5, Bounciness: 0.2},
			{Name: "ball", Shape: "sphere", Radius: 0.5, Position: [3]float64{0.2, 6, 0}, Friction: 0.3, Bounciness: 0.5},
		},
	}
}

func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML scene. Missing world settings keep their defaults.
func Parse(data []byte) (*Scene, error) {
	s := &Scene{World: DefaultWorld()}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func Save(path string, s *Scene) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c WorldConfig) Rigid() rigid.WorldConfig {
	return rigid.WorldConfig{
		Gravity:           mgl64.Vec3(c.Gravity),
		TickRate:          c.TickRate,
		ContactCorrection: c.ContactCorrection,
		MaxDt:             c.MaxDt,
		Debug:             c.Debug,
	}
}

func (s *Scene) Validate() error {
	if err := s.World.Rigid().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScene, err)
	}
	if s.Duration < 0 {
		return fmt.Errorf("%w: negative duration %v", ErrInvalidScene, s.Duration)
	}
	seen := map[string]bool{}
	for i, p := range s.Parts {
		if p.Name == "" {
			return fmt.Errorf("%w: part %d has no name", ErrInvalidScene, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate part %q", ErrInvalidScene, p.Name)
		}
		if _, err := p.shape(); err != nil {
			return err
		}
		if p.Density < 0 {
			return fmt.Errorf("%w: part %q has negative density", ErrInvalidScene, p.Name)
		}
		if p.WeldTo != "" && !seen[p.WeldTo] {
			return fmt.Errorf("%w: part %q welds to unknown or later part %q", ErrInvalidScene, p.Name, p.WeldTo)
		}
		seen[p.Name] = true
	}
	for i, j := range s.Joints {
		if !seen[j.Parent] || !seen[j.Child] {
			return fmt.Errorf("%w: joint %d references unknown parts %q, %q", ErrInvalidScene, i, j.Parent, j.Child)
		}
		if j.Parent == j.Child {
			return fmt.Errorf("%w: joint %d joins %q to itself", ErrInvalidScene, i, j.Parent)
		}
		if _, err := j.constraint(); err != nil {
			return fmt.Errorf("%w: joint %d: %v", ErrInvalidScene, i, err)
		}
	}
	return nil
}

func (p PartConfig) shape() (geom.Shape, error) {
	switch p.Shape {
	case "box":
		if p.Size[0] <= 0 || p.Size[1] <= 0 || p.Size[2] <= 0 {
			return nil, fmt.Errorf("%w: box %q needs a positive size", ErrInvalidScene, p.Name)
		}
		return geom.NewBox(p.Size[0], p.Size[1], p.Size[2]), nil
	case "sphere":
		if p.Radius <= 0 {
			return nil, fmt.Errorf("%w: sphere %q needs a positive radius", ErrInvalidScene, p.Name)
		}
		return geom.NewSphere(p.Radius), nil
	}
	return nil, fmt.Errorf("%w: part %q has unknown shape %q", ErrInvalidScene, p.Name, p.Shape)
}

func (p PartConfig) cframe() geom.CFrame {
	rot, _ := geom.RotationFromVector(mgl64.Vec3(p.Rotation))
	return geom.NewCFrame(mgl64.Vec3(p.Position), rot)
}

func (p PartConfig) properties() rigid.PartProperties {
	density := p.Density
	if density == 0 {
		density = DefaultDensity
	}
	return rigid.PartProperties{
		Density:        density,
		Friction:       p.Friction,
		Bounciness:     p.Bounciness,
		ConveyorEffect: mgl64.Vec3(p.Conveyor),
	}
}

func (j JointConfig) constraint() (rigid.HardConstraint, error) {
	var c rigid.HardConstraint
	switch j.Type {
	case "fixed", "":
		c = &rigid.FixedConstraint{}
	case "motor":
		c = &rigid.MotorConstraint{Speed: j.Speed}
	case "piston":
		c = &rigid.PistonConstraint{Min: j.Min, Max: j.Max, Speed: j.Speed}
	default:
		return nil, fmt.Errorf("unknown joint type %q", j.Type)
	}
	return c, c.Validate()
}

// Build creates a world holding every part and joint of the scene.
func (s *Scene) Build(logger rigid.Logger) (*rigid.World, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	w, err := rigid.NewWorld(s.World.Rigid(), logger)
	if err != nil {
		return nil, err
	}

	parts := make(map[string]*rigid.Part, len(s.Parts))
	for _, pc := range s.Parts {
		shape, _ := pc.shape()
		part := rigid.NewPart(shape, pc.cframe(), pc.properties())
		part.Name = pc.Name
		parts[pc.Name] = part

		if pc.WeldTo == "" {
			if _, err := w.AddPart(part, pc.Anchored); err != nil {
				return nil, fmt.Errorf("part %q: %w", pc.Name, err)
			}
			continue
		}
		target := parts[pc.WeldTo]
		ph, ok := target.Physical()
		if !ok {
			return nil, fmt.Errorf("%w: weld target %q of %q is not placed", ErrInvalidScene, pc.WeldTo, pc.Name)
		}
		body := ph.Body().CFrame()
		if err := ph.AttachPart(part, body.GlobalToLocalFrame(part.CFrame())); err != nil {
			return nil, fmt.Errorf("part %q: %w", pc.Name, err)
		}
		if pc.Anchored {
			if err := ph.Tree().SetAnchored(true); err != nil {
				return nil, err
			}
		}
	}

	for i, jc := range s.Joints {
		parentPart, childPart := parts[jc.Parent], parts[jc.Child]
		parent, _ := parentPart.Physical()
		child, _ := childPart.Physical()
		constraint, _ := jc.constraint()
		_, err := parent.AttachPhysical(child, constraint,
			attachFrame(parent, parentPart, jc.ParentAttach),
			attachFrame(child, childPart, jc.ChildAttach))
		if err != nil {
			return nil, fmt.Errorf("joint %d (%s -> %s): %w", i, jc.Parent, jc.Child, err)
		}
	}

	for _, pc := range s.Parts {
		v := mgl64.Vec3(pc.Velocity)
		if v == (mgl64.Vec3{}) {
			continue
		}
		if ph, ok := parts[pc.Name].Physical(); ok {
			ph.Tree().SetMotion(rigid.Motion{Velocity: v})
		}
	}
	return w, nil
}

// attachFrame turns an offset in part's local space into a joint frame in the
// space of ph's main part.
func attachFrame(ph rigid.Physical, part *rigid.Part, offset [3]float64) geom.CFrame {
	local := part.CFrame().Mul(geom.CFrameAt(offset[0], offset[1], offset[2]))
	return ph.CFrame().GlobalToLocalFrame(local)
}
