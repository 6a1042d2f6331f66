package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gekko3d/rigid"
	"github.com/gekko3d/rigid/config"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
)

var (
	configFile string
	preset     string
	duration   float64
	dt         float64
	debug      bool
	plotHeight int
	fps        int
)

var (
	title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	label = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	value = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	panel = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 2)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rigidsim",
		Short: "headless rigid body simulation driver",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "scene file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use a preset scene")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "step a scene and plot its kinetic energy",
		RunE:  runScene,
	}
	runCmd.Flags().Float64Var(&duration, "time", 0, "simulated seconds (0 uses the scene's duration)")
	runCmd.Flags().Float64Var(&dt, "dt", 0, "timestep (0 uses the scene's tick rate)")
	runCmd.Flags().IntVar(&plotHeight, "height", 10, "plot height")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "run a scene in real time and show part placements",
		RunE:  watchScene,
	}
	watchCmd.Flags().IntVar(&fps, "fps", 20, "refresh rate")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list preset scenes",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.ListPresets() {
				s := config.GetPreset(name)
				fmt.Printf("  %-10s %d parts, %d joints, %.1fs\n", name, len(s.Parts), len(s.Joints), s.Duration)
			}
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export [path]",
		Short: "write the selected scene to a yaml file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScene()
			if err != nil {
				return err
			}
			return config.Save(args[0], s)
		},
	}

	rootCmd.AddCommand(runCmd, watchCmd, presetsCmd, exportCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadScene picks the config file, then the preset, then the default scene.
func loadScene() (*config.Scene, error) {
	if configFile != "" {
		s, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load scene: %w", err)
		}
		return s, nil
	}
	if preset != "" {
		s := config.GetPreset(preset)
		if s == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		return s, nil
	}
	return config.DefaultScene(), nil
}

// buildWorld builds the selected scene. A nil logger logs to the standard
// streams.
func buildWorld(logger rigid.Logger) (*config.Scene, *rigid.World, error) {
	s, err := loadScene()
	if err != nil {
		return nil, nil, err
	}
	if debug {
		s.World.Debug = true
	}
	if logger == nil {
		logger = rigid.NewDefaultLogger("rigidsim", s.World.Debug)
	}
	w, err := s.Build(logger)
	if err != nil {
		return nil, nil, err
	}
	return s, w, nil
}

func runScene(cmd *cobra.Command, args []string) error {
	s, w, err := buildWorld(nil)
	if err != nil {
		return err
	}
	defer w.Close()

	if !cmd.Flags().Changed("time") {
		duration = s.Duration
	}
	if !cmd.Flags().Changed("dt") {
		dt = 1 / s.World.TickRate
	}
	if duration <= 0 || dt <= 0 {
		return fmt.Errorf("time and dt must be positive (got %v, %v)", duration, dt)
	}

	steps := int(duration/dt + 0.5)
	energy := make([]float64, 0, steps)
	contacts := 0
	start := time.Now()
	for i := 0; i < steps; i++ {
		if err := w.Tick(dt); err != nil {
			return err
		}
		snap := w.Snapshot()
		energy = append(energy, snap.KineticEnergy)
		contacts += snap.Stats.Contacts
	}
	elapsed := time.Since(start)
	if err := w.Validate(); err != nil {
		return fmt.Errorf("world inconsistent after run: %w", err)
	}

	if len(energy) > 1 {
		fmt.Println(asciigraph.Plot(energy,
			asciigraph.Height(plotHeight),
			asciigraph.Width(80),
			asciigraph.Caption("kinetic energy"),
		))
		fmt.Println()
	}
	fmt.Println(summary(s, w.Snapshot(), contacts, elapsed))
	return nil
}

func summary(s *config.Scene, snap *rigid.Snapshot, contacts int, elapsed time.Duration) string {
	rows := [][2]string{
		{"scene", s.Name},
		{"ticks", fmt.Sprintf("%d", snap.Tick)},
		{"simulated", fmt.Sprintf("%.2fs", snap.Time)},
		{"wall time", elapsed.Round(time.Microsecond).String()},
		{"trees", fmt.Sprintf("%d", snap.Stats.Trees)},
		{"parts", fmt.Sprintf("%d", snap.Stats.Parts)},
		{"contacts", fmt.Sprintf("%d", contacts)},
		{"kinetic energy", fmt.Sprintf("%.4f", snap.KineticEnergy)},
	}
	var b strings.Builder
	b.WriteString(title.Render("rigidsim run"))
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(label.Render(fmt.Sprintf("%-15s", r[0])))
		b.WriteString(value.Render(r[1]))
	}
	return panel.Render(b.String())
}
