package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/storage/report"
)

func newReviewCmd(a app) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "review <meeting-id>",
		Short: "Review a stored meeting's transcript and interventions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), a, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Close()
			snap, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if plain || a.isTerminal == nil || !a.isTerminal(out) {
				_, err := io.WriteString(out, plainReview(snap))
				return err
			}
			return a.runViewer(cmd.Context(), newReviewModel(snap), out)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print markdown instead of the interactive viewer")
	return cmd
}

// plainReview is the same markdown the report writer saves.
func plainReview(snap meeting.Snapshot) string {
	return report.Preparation(snap, snap.CreatedAt) + "\n" +
		report.Transcript(snap) + "\n" +
		report.Interventions(snap)
}

func runReviewProgram(ctx context.Context, m reviewModel, out io.Writer) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithOutput(out))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("review viewer: %w", err)
	}
	return nil
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	speakerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1).
			Foreground(lipgloss.Color("15")).Background(lipgloss.Color("12"))
)

func kindStyle(k meeting.InterventionKind) lipgloss.Style {
	color := lipgloss.Color("12")
	switch k {
	case meeting.KindPrincipleViolation:
		color = lipgloss.Color("9")
	case meeting.KindTopicDrift:
		color = lipgloss.Color("11")
	case meeting.KindParticipationImbalance:
		color = lipgloss.Color("14")
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

type reviewModel struct {
	title  string
	lines  []string
	offset int
	height int
}

func newReviewModel(snap meeting.Snapshot) reviewModel {
	return reviewModel{
		title:  fmt.Sprintf("%s  (%s)", snap.Title, snap.Status),
		lines:  reviewLines(snap),
		height: 20,
	}
}

func reviewLines(snap meeting.Snapshot) []string {
	var lines []string
	section := func(name string) {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, headingStyle.Render(name))
	}

	section("Meeting")
	if snap.Agenda != "" {
		lines = append(lines, "Agenda: "+snap.Agenda)
	}
	if snap.StartedAt != nil {
		lines = append(lines, "Started: "+snap.StartedAt.UTC().Format(time.DateTime))
	}
	if snap.EndedAt != nil {
		lines = append(lines, "Ended:   "+snap.EndedAt.UTC().Format(time.DateTime))
	}
	if names := snap.PrincipleNames(); len(names) > 0 {
		lines = append(lines, "Principles: "+strings.Join(names, ", "))
	}

	section("Participation")
	stats := snap.SpeakerStats()
	if len(stats) == 0 {
		lines = append(lines, mutedStyle.Render("nobody spoke"))
	}
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if stats[names[i]].Count != stats[names[j]].Count {
			return stats[names[i]].Count > stats[names[j]].Count
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		st := stats[name]
		bar := barStyle.Render(strings.Repeat("█", st.Percentage/5))
		lines = append(lines, fmt.Sprintf("%-16s %3d%% %s %s", name, st.Percentage, bar,
			mutedStyle.Render(fmt.Sprintf("%d turns, %.0fs", st.Count, st.SpeakingTime))))
	}

	section(fmt.Sprintf("Transcript (%d)", len(snap.Transcript)))
	for _, e := range snap.Transcript {
		lines = append(lines, fmt.Sprintf("%s %s %s",
			mutedStyle.Render(e.Timestamp.UTC().Format(time.TimeOnly)),
			speakerStyle.Render(e.Speaker+":"),
			e.Text))
	}

	section(fmt.Sprintf("Interventions (%d)", len(snap.Interventions)))
	for _, iv := range snap.Interventions {
		lines = append(lines, fmt.Sprintf("%s %s %s",
			mutedStyle.Render(iv.Timestamp.UTC().Format(time.TimeOnly)),
			kindStyle(iv.Kind).Render(string(iv.Kind)),
			iv.Message))
		if iv.ViolatedPrinciple != "" {
			lines = append(lines, mutedStyle.Render("    principle: "+iv.ViolatedPrinciple))
		}
		if iv.SuggestedSpeaker != "" {
			lines = append(lines, mutedStyle.Render("    suggested speaker: "+iv.SuggestedSpeaker))
		}
	}

	if len(snap.ParkingLot) > 0 {
		section("Parking lot")
		for _, item := range snap.ParkingLot {
			lines = append(lines, "- "+item)
		}
	}
	return lines
}

func (m reviewModel) Init() tea.Cmd { return nil }

// bodyHeight leaves room for the title and footer.
func (m reviewModel) bodyHeight() int {
	if m.height <= 3 {
		return 1
	}
	return m.height - 3
}

func (m reviewModel) maxOffset() int {
	if n := len(m.lines) - m.bodyHeight(); n > 0 {
		return n
	}
	return 0
}

func (m reviewModel) scroll(delta int) reviewModel {
	m.offset = max(0, min(m.offset+delta, m.maxOffset()))
	return m
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m.scroll(0), nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "down", "j":
			return m.scroll(1), nil
		case "up", "k":
			return m.scroll(-1), nil
		case "pgdown", " ", "f":
			return m.scroll(m.bodyHeight()), nil
		case "pgup", "b":
			return m.scroll(-m.bodyHeight()), nil
		case "g", "home":
			m.offset = 0
			return m, nil
		case "G", "end":
			m.offset = m.maxOffset()
			return m, nil
		}
	}
	return m, nil
}

func (m reviewModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	end := min(m.offset+m.bodyHeight(), len(m.lines))
	for _, line := range m.lines[m.offset:end] {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d-%d of %d  j/k scroll  q quit", m.offset+1, end, len(m.lines))))
	return b.String()
}
