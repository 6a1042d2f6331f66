package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gekko3d/rigid"
	"github.com/gekko3d/rigid/config"
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
)

var (
	running  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("82"))
	anchored = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

const historyCapacity = 120

type frameMsg time.Time

type watchModel struct {
	scene   *config.Scene
	world   *rigid.World
	snap    *rigid.Snapshot
	energy  []float64
	picked  string
	refresh time.Duration
}

func (m watchModel) Init() tea.Cmd { return m.frame() }

func (m watchModel) frame() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			m.picked = m.pickFromAbove()
		case "k":
			// an upward kick for every free tree, applied at the next tick
			m.world.Submit(func(w *rigid.World) error {
				for _, t := range w.Trees() {
					if !t.Anchored() {
						t.ApplyImpulseAtCenterOfMass(mgl64.Vec3{0, 5 * t.TotalMass(), 0})
					}
				}
				return nil
			})
		}
	case frameMsg:
		m.snap = m.world.Snapshot()
		m.energy = append(m.energy, m.snap.KineticEnergy)
		if len(m.energy) > historyCapacity {
			m.energy = m.energy[1:]
		}
		return m, m.frame()
	}
	return m, nil
}

// pickFromAbove names the first part hit by a ray cast straight down through
// the scene's origin.
func (m watchModel) pickFromAbove() string {
	var name string
	err := m.world.Exclusive(func(w *rigid.World) error {
		part, dist, ok := w.Pick(geom.Ray{Start: mgl64.Vec3{0, 100, 0}, Direction: mgl64.Vec3{0, -1, 0}})
		if ok {
			name = fmt.Sprintf("%s at %.2f", part.Name, 100-dist)
		}
		return nil
	})
	if err != nil || name == "" {
		return "nothing"
	}
	return name
}

func (m watchModel) View() string {
	if m.snap == nil {
		return "starting...\n"
	}
	var b strings.Builder
	b.WriteString(title.Render(m.scene.Name))
	b.WriteString("  ")
	b.WriteString(running.Render(fmt.Sprintf("t=%.2fs tick %d", m.snap.Time, m.snap.Tick)))
	b.WriteString(dim.Render(fmt.Sprintf("  %d contacts, %v per tick", m.snap.Stats.Contacts, m.snap.Stats.TickDuration)))
	b.WriteString("\n\n")

	parts := slices.Clone(m.snap.Parts)
	slices.SortFunc(parts, func(a, b rigid.PartPlacement) int { return strings.Compare(a.Name, b.Name) })
	for _, p := range parts {
		pos := p.CFrame.Position
		line := fmt.Sprintf("%-10s %-6s %8.3f %8.3f %8.3f", p.Name, p.Shape, pos.X(), pos.Y(), pos.Z())
		if p.Anchored {
			line = anchored.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(m.energy) > 1 {
		b.WriteString("\n")
		b.WriteString(asciigraph.Plot(m.energy, asciigraph.Height(4), asciigraph.Width(60), asciigraph.Caption("kinetic energy")))
		b.WriteString("\n")
	}
	if m.picked != "" {
		b.WriteString("\npicked: " + m.picked + "\n")
	}
	b.WriteString(dim.Render("\nq quit  k kick  p pick from above"))
	return panel.Render(b.String())
}

func watchScene(cmd *cobra.Command, args []string) error {
	if fps <= 0 {
		return fmt.Errorf("fps must be positive (got %d)", fps)
	}
	// the program owns the terminal while it runs
	s, w, err := buildWorld(rigid.NewLogger("rigidsim", false, io.Discard, io.Discard))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	m := watchModel{scene: s, world: w, refresh: time.Second / time.Duration(fps)}
	_, runErr := tea.NewProgram(m, tea.WithAltScreen()).Run()

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	w.Close()
	return runErr
}
