package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/artpar/bundlegate/ports"
)

// ErrNoBuilds is returned when a profile has no recorded successful build.
var ErrNoBuilds = errors.New("no successful builds recorded")

// AssetDelta compares one asset between the latest build and the one before.
type AssetDelta struct {
	Source string
	Output string
	Bytes  int64
	// Previous is the size in the earlier build; zero when HasPrevious is false.
	Previous    int64
	HasPrevious bool
	// Removed marks an asset the latest build no longer emits.
	Removed bool
}

// Delta returns the size change; removed assets shrink by their full size.
func (d AssetDelta) Delta() int64 {
	if d.Removed {
		return -d.Previous
	}
	return d.Bytes - d.Previous
}

// WeighIn is a size report for one profile.
type WeighIn struct {
	Profile  string
	Latest   ports.BuildRecord
	Previous *ports.BuildRecord
	Assets   []AssetDelta
}

// Total returns the summed sizes of the latest and previous builds.
func (w *WeighIn) Total() (latest, previous int64) {
	for _, a := range w.Assets {
		latest += a.Bytes
		previous += a.Previous
	}
	return latest, previous
}

// Weigh builds the report for profile from the two most recent builds.
func Weigh(ctx context.Context, history ports.HistoryStore, profile string) (*WeighIn, error) {
	builds, err := history.Latest(ctx, profile, 2)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("profile %s: %w", profile, ErrNoBuilds)
	}

	w := &WeighIn{Profile: profile, Latest: builds[0]}
	if len(builds) > 1 {
		w.Previous = &builds[1]
	}
	w.Assets = compareAssets(w.Latest.Assets, w.Previous)
	return w, nil
}

// compareAssets pairs assets by source path. Output names change with
// content hashes, the source does not.
func compareAssets(latest []ports.AssetSize, prev *ports.BuildRecord) []AssetDelta {
	before := make(map[string]int64)
	if prev != nil {
		for _, a := range prev.Assets {
			before[a.Source] = a.Bytes
		}
	}

	out := make([]AssetDelta, 0, len(latest))
	seen := make(map[string]bool, len(latest))
	for _, a := range latest {
		d := AssetDelta{Source: a.Source, Output: a.Output, Bytes: a.Bytes}
		if size, ok := before[a.Source]; ok {
			d.Previous = size
			d.HasPrevious = true
		}
		seen[a.Source] = true
		out = append(out, d)
	}
	if prev != nil {
		for _, a := range prev.Assets {
			if !seen[a.Source] {
				out = append(out, AssetDelta{Source: a.Source, Output: a.Output, Previous: a.Bytes, HasPrevious: true, Removed: true})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

var (
	weighTitleStyle  = lipgloss.NewStyle().Bold(true)
	weighHeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	weighCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	weighMutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#767676", Dark: "#8A8A8A"})
	weighGrowStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF5F87", Dark: "#FF5F87"})
	weighShrinkStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00D787", Dark: "#00D787"})
	weighNewStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5FAFFF", Dark: "#5FAFFF"})
)

// Render writes the report as a table.
func (w *WeighIn) Render(out io.Writer) error {
	var sb strings.Builder

	title := fmt.Sprintf("%s build %s", w.Profile, w.Latest.ID)
	if w.Previous != nil {
		title += fmt.Sprintf(" (compared with %s)", w.Previous.ID)
	}
	sb.WriteString(weighTitleStyle.Render(title))
	sb.WriteString("\n")

	headers := []string{"source", "output", "size", "change"}
	rows := make([][]string, 0, len(w.Assets)+1)
	for _, a := range w.Assets {
		size := humanize.Bytes(uint64(a.Bytes))
		if a.Removed {
			size = "-"
		}
		rows = append(rows, []string{a.Source, a.Output, size, w.change(a)})
	}
	latest, previous := w.Total()
	total := "-"
	if w.Previous != nil {
		total = formatDelta(latest - previous)
	}
	rows = append(rows, []string{"total", "", humanize.Bytes(uint64(latest)), total})

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	for i := range widths {
		widths[i] += 2
	}

	for i, h := range headers {
		sb.WriteString(weighHeaderStyle.Width(widths[i]).Render(h))
	}
	sb.WriteString("\n")
	for i, row := range rows {
		if i == len(rows)-1 {
			sb.WriteString(weighMutedStyle.Render(strings.Repeat("-", sum(widths))))
			sb.WriteString("\n")
		}
		for j, cell := range row {
			style := weighCellStyle.Width(widths[j])
			if j == 3 {
				style = style.Inherit(deltaStyle(cell))
			}
			sb.WriteString(style.Render(cell))
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(out, sb.String())
	return err
}

func (w *WeighIn) change(a AssetDelta) string {
	switch {
	case w.Previous == nil:
		return "-"
	case a.Removed:
		return "removed"
	case !a.HasPrevious:
		return "new"
	default:
		return formatDelta(a.Delta())
	}
}

func formatDelta(d int64) string {
	switch {
	case d > 0:
		return "+" + humanize.Bytes(uint64(d))
	case d < 0:
		return "-" + humanize.Bytes(uint64(-d))
	default:
		return "0 B"
	}
}

func deltaStyle(cell string) lipgloss.Style {
	switch {
	case cell == "new":
		return weighNewStyle
	case cell == "removed", strings.HasPrefix(cell, "-") && cell != "-":
		return weighShrinkStyle
	case strings.HasPrefix(cell, "+"):
		return weighGrowStyle
	default:
		return weighMutedStyle
	}
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}
