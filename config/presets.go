package config

import "sort"

func ground(friction float64) PartConfig {
	return PartConfig{
		Name: "ground", Shape: "box", Size: [3]float64{20, 1, 20}, Position: [3]float64{0, -0.5, 0},
		Friction: friction, Anchored: true,
	}
}

var Presets = map[string]*Scene{
	"drop": {
		Name: "drop", Duration: 4, World: DefaultWorld(),
		Parts: []PartConfig{
			ground(0.6),
			{Name: "crate", Shape: "box", Size: [3]float64{1, 1, 1}, Position: [3]float64{0, 4, 0}, Friction: 0.5, Bounciness: 0.3},
		},
	},
	"stack": {
		Name: "stack", Duration: 6, World: DefaultWorld(),
		Parts: []PartConfig{
			ground(0.8),
			{Name: "bottom", Shape: "box", Size: [3]float64{1, 1, 1}, Position: [3]float64{0, 0.5, 0}, Friction: 0.8},
			{Name: "middle", Shape: "box", Size: [3]float64{1, 1, 1}, Position: [3]float64{0, 1.6, 0}, Friction: 0.8},
			{Name: "top", Shape: "box", Size: [3]float64{1, 1, 1}, Position: [3]float64{0, 2.7, 0}, Friction: 0.8},
		},
	},
	"conveyor": {
		Name: "conveyor", Duration: 5, World: DefaultWorld(),
		Parts: []PartConfig{
			{Name: "belt", Shape: "box", Size: [3]float64{12, 0.5, 3}, Position: [3]float64{0, -0.25, 0},
				Friction: 1, Conveyor: [3]float64{2, 0, 0}, Anchored: true},
			{Name: "parcel", Shape: "box", Size: [3]float64{1, 0.6, 1}, Position: [3]float64{-4, 0.35, 0}, Friction: 0.9},
		},
	},
	"collision": {
		Name: "collision", Duration: 3,
		World: WorldConfig{TickRate: DefaultTickRate, ContactCorrection: DefaultContactCorrection, MaxDt: DefaultMaxDt},
		Parts: []PartConfig{
			{Name: "left", Shape: "sphere", Radius: 0.5, Position: [3]float64{-3, 0, 0}, Bounciness: 1, Velocity: [3]float64{2, 0, 0}},
			{Name: "right", Shape: "sphere", Radius: 0.5, Position: [3]float64{3, 0, 0}, Bounciness: 1, Velocity: [3]float64{-2, 0, 0}},
		},
	},
	"windmill": {
		Name: "windmill", Duration: 8, World: DefaultWorld(),
		Parts: []PartConfig{
			ground(0.6),
			{Name: "tower", Shape: "box", Size: [3]float64{0.6, 4, 0.6}, Position: [3]float64{0, 2, 0}, Friction: 0.6, Anchored: true},
			{Name: "hub", Shape: "box", Size: [3]float64{0.4, 0.4, 0.4}, Position: [3]float64{0, 4, 0.5}},
			{Name: "blade_a", Shape: "box", Size: [3]float64{3, 0.3, 0.1}, Position: [3]float64{1.7, 4, 0.5}, WeldTo: "hub"},
			{Name: "blade_b", Shape: "box", Size: [3]float64{3, 0.3, 0.1}, Position: [3]float64{-1.7, 4, 0.5}, WeldTo: "hub"},
		},
		Joints: []JointConfig{
			{Type: "motor", Parent: "tower", Child: "hub", ParentAttach: [3]float64{0, 2, 0.3}, ChildAttach: [3]float64{0, 0, -0.2}, Speed: 1.5},
		},
	},
	"piston": {
		Name: "piston", Duration: 6, World: DefaultWorld(),
		Parts: []PartConfig{
			ground(0.6),
			{Name: "base", Shape: "box", Size: [3]float64{1, 1, 1}, Position: [3]float64{0, 0.5, 0}, Anchored: true},
			{Name: "rod", Shape: "box", Size: [3]float64{0.4, 0.4, 0.4}, Position: [3]float64{0, 1.5, 0}},
		},
		Joints: []JointConfig{
			{Type: "piston", Parent: "base", Child: "rod", ParentAttach: [3]float64{0, 0.5, 0}, Min: 0.3, Max: 1.5, Speed: 0.5},
		},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Scene {
	s, ok := Presets[name]
	if !ok {
		return nil
	}
	out := *s
	out.Parts = append([]PartConfig(nil), s.Parts...)
	out.Joints = append([]JointConfig(nil), s.Joints...)
	return &out
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
