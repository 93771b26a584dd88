package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/widgets"
)

// Tasks renders the task list, open tasks first.
func Tasks(tasks []*schema.Task, now time.Time) string {
	if len(tasks) == 0 {
		return RenderMuted("No tasks yet.")
	}
	var open, done []string
	for _, t := range tasks {
		line := fmt.Sprintf("%s %s", RenderMuted(shortKey(t.Key)), t.Text)
		switch {
		case t.Completed:
			done = append(done, RenderPass("✓")+" "+RenderMuted(fmt.Sprintf("%s %s", shortKey(t.Key), t.Text)))
			continue
		case t.Overdue(now):
			line += " " + RenderFail("(overdue "+t.Due.Local().Format("Jan 2 15:04")+")")
		case t.Due != nil:
			line += " " + RenderWarn("(due "+t.Due.Local().Format("Jan 2 15:04")+")")
		}
		open = append(open, "○ "+line)
	}
	lines := append(open, done...)
	lines = append(lines, RenderMuted(fmt.Sprintf("%d remaining", len(open))))
	return strings.Join(lines, "\n")
}

// Notes renders note headings with their last update.
func Notes(notes []*schema.Note) string {
	if len(notes) == 0 {
		return RenderMuted("No notes yet.")
	}
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		updated := ""
		if !n.UpdatedAt.IsZero() {
			updated = n.UpdatedAt.Local().Format("Jan 2 15:04")
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", RenderMuted(shortKey(n.Key)), n.Heading(), RenderMuted(updated)))
	}
	return strings.Join(lines, "\n")
}

// Note renders a single note with its save status.
func Note(n *schema.Note, status string) string {
	var b strings.Builder
	b.WriteString(RenderHeader(n.Heading()))
	switch status {
	case "":
	case widgets.StatusError:
		b.WriteString("  " + RenderFail(status))
	default:
		b.WriteString("  " + RenderMuted(status))
	}
	if n.Content != "" {
		b.WriteString("\n\n" + n.Content)
	}
	return b.String()
}

// Schedule renders one day's hourly slots.
func Schedule(date string, events []schema.Event) string {
	width := 0
	for _, ev := range events {
		if w := lipgloss.Width(ev.Hour); w > width {
			width = w
		}
	}
	lines := []string{RenderHeader(date)}
	for _, ev := range events {
		hour := fmt.Sprintf("%*s", width, ev.Hour)
		text := ev.Text
		if text == "" {
			text = RenderMuted("·")
		}
		lines = append(lines, RenderAccent(hour)+"  "+text)
	}
	return strings.Join(lines, "\n")
}

// Habits renders the week grid with each habit's streak up to today.
func Habits(habits []*schema.Habit, today int) string {
	if len(habits) == 0 {
		return RenderMuted("No habits yet.")
	}
	nameWidth := len("Habit")
	for _, h := range habits {
		if w := lipgloss.Width(h.Name); w > nameWidth {
			nameWidth = w
		}
	}

	header := []string{fmt.Sprintf("%-*s", nameWidth, "Habit")}
	for i, day := range schema.Weekdays {
		label := strings.ToUpper(day[:1]) + day[1:]
		if i == today {
			label = RenderAccent(label)
		}
		header = append(header, label)
	}
	lines := []string{RenderHeader(strings.Join(header, " "))}

	for _, h := range habits {
		row := []string{fmt.Sprintf("%-*s", nameWidth, h.Name)}
		for _, done := range h.Days {
			mark := RenderMuted(" · ")
			if done {
				mark = RenderPass(" ✓ ")
			}
			row = append(row, mark)
		}
		if streak := h.Streak(today); streak > 1 {
			row = append(row, RenderWarn(fmt.Sprintf("%d-day streak", streak)))
		}
		lines = append(lines, strings.Join(row, " "))
	}
	return strings.Join(lines, "\n")
}

// Links renders the quick links.
func Links(links []*schema.Link) string {
	if len(links) == 0 {
		return RenderMuted("No links yet.")
	}
	lines := make([]string, 0, len(links))
	for _, l := range links {
		lines = append(lines, fmt.Sprintf("%s %s  %s", RenderMuted(shortKey(l.Key)), l.Title, RenderAccent(l.URL)))
	}
	return strings.Join(lines, "\n")
}

// Timer renders the focus timer's clock and phase.
func Timer(t schema.Timer, running bool) string {
	phase := "Time for a Break!"
	if t.IsWorkTime {
		phase = "Get back to Work!"
	}
	state := RenderMuted("paused")
	if running {
		state = RenderPass("running")
	}
	return lipgloss.JoinVertical(lipgloss.Center,
		RenderHeader(phase),
		ClockStyle.Render(schema.FormatClock(t.Time)),
		state,
	)
}

// shortKey abbreviates generated keys for display.
func shortKey(key string) string {
	if len(key) > 8 {
		return key[len(key)-8:]
	}
	return key
}
