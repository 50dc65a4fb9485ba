package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/tyiu/sats-price/internal/engine"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")) // yellow
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))             // cyan
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	warnColor = color.New(color.FgYellow, color.Bold)
	errColor  = color.New(color.FgRed)
)

const supplyWarning = "⚠️  amount exceeds the 21,000,000 BTC supply"

type viewRow struct {
	label, value, note string
}

// RenderView lays out a converter snapshot: a header with the source and
// update time, one row per field and the supply-cap warning when it applies.
func RenderView(v engine.View) string {
	updated := "never"
	if !v.LastUpdated.IsZero() {
		updated = v.LastUpdated.Local().Format(time.DateTime)
	}

	rows := []viewRow{
		{label: "sats", value: dash(v.Sats)},
		{label: "BTC", value: dash(v.BTC)},
	}
	for _, code := range append([]string{v.Primary}, v.Watched...) {
		rows = append(rows, viewRow{label: code, value: dash(v.Values[code]), note: "@ " + dash(v.Prices[code])})
	}

	lw, vw := 0, 0
	for _, r := range rows {
		lw = max(lw, lipgloss.Width(r.label))
		vw = max(vw, lipgloss.Width(r.value))
	}

	var b strings.Builder
	b.WriteString(dimStyle.Render(fmt.Sprintf("source %s · updated %s", v.Source, updated)))
	b.WriteByte('\n')
	for _, r := range rows {
		b.WriteString(labelStyle.Width(lw + 2).Render(r.label))
		b.WriteString(valueStyle.Width(vw).Align(lipgloss.Right).Render(r.value))
		if r.note != "" {
			b.WriteString("  ")
			b.WriteString(dimStyle.Render(r.note))
		}
		b.WriteByte('\n')
	}
	if v.ExceedsSupplyCap {
		b.WriteString(warnColor.Sprint(supplyWarning))
		b.WriteByte('\n')
	}
	return b.String()
}

func errorText(err error) string {
	return errColor.Sprintf("error: %v", err)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
