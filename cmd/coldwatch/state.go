package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sweeney/coldwatch/internal/logic"
	"github.com/sweeney/coldwatch/internal/store"
)

var (
	colorLabel = lipgloss.Color("252")
	colorDim   = lipgloss.Color("243")

	levelColors = map[logic.Level]lipgloss.Color{
		logic.LevelNormal:   lipgloss.Color("42"),
		logic.LevelWarning:  lipgloss.Color("214"),
		logic.LevelCritical: lipgloss.Color("196"),
	}
)

const (
	labelW = 12
	valueW = 10
	levelW = 9
)

// latestSource is the part of the ThingSpeak client print-state needs.
type latestSource interface {
	FetchLatest(ctx context.Context) (logic.Reading, bool)
}

// printLatest fetches one reading, evaluates it against the stored
// thresholds and writes it to w.
func printLatest(ctx context.Context, w io.Writer, src latestSource, st store.Store) error {
	r, ok := src.FetchLatest(ctx)
	if !ok {
		return errors.New("no reading available from ThingSpeak")
	}
	t := store.LoadOrDefault(ctx, st)
	fmt.Fprintln(w, renderState(r, logic.Evaluate(r, t), t))
	return nil
}

func levelStyle(l logic.Level) lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(levelColors[l]).
		Bold(l != logic.LevelNormal).
		Width(levelW)
}

func renderState(r logic.Reading, s logic.Status, t logic.Thresholds) string {
	var rows []string

	title := lipgloss.NewStyle().Bold(true).Foreground(colorLabel).Render("ColdWatch")
	stamp := lipgloss.NewStyle().Foreground(colorDim).
		Render(fmt.Sprintf("entry %d  %s", r.EntryID, r.Timestamp.UTC().Format("2006-01-02 15:04:05Z")))
	rows = append(rows, title+"  "+stamp)

	head := lipgloss.NewStyle().Foreground(colorDim)
	rows = append(rows,
		head.Width(labelW).Render("sensor")+" "+
			head.Width(valueW).Align(lipgloss.Right).Render("value")+"  "+
			head.Width(levelW).Render("status")+" "+
			head.Render("warn / crit"))
	rows = append(rows, head.Render(strings.Repeat("─", labelW+valueW+levelW+16)))

	for _, c := range logic.Channels {
		label := lipgloss.NewStyle().Foreground(colorLabel).Bold(true).Width(labelW).Render(c.DisplayName())
		value := lipgloss.NewStyle().Width(valueW).Align(lipgloss.Right).Render(formatValue(c, r.Value(c)))
		level := levelStyle(s.For(c)).Render(string(s.For(c)))
		lim := t.For(c)
		limits := head.Render(fmt.Sprintf("%g / %g", lim.Warning, lim.Critical))
		rows = append(rows, label+" "+value+"  "+level+" "+limits)
	}

	overall := levelStyle(s.Overall).Width(0).Render(strings.ToUpper(string(s.Overall)))
	rows = append(rows, "", lipgloss.NewStyle().Foreground(colorLabel).Render("overall ")+overall)

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func formatValue(c logic.Channel, v float64) string {
	switch c {
	case logic.ChannelTemperature:
		return fmt.Sprintf("%.1f°C", v)
	case logic.ChannelHumidity:
		return fmt.Sprintf("%.1f%%", v)
	}
	return fmt.Sprintf("%.0f ppm", v)
}
