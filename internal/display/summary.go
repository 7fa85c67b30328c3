package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"video-scanner-go/internal/extractor"
	"video-scanner-go/internal/report"
	"video-scanner-go/internal/store"
)

// MaxListed caps how many matches and errors the summary prints.
const MaxListed = 20

// Summary renders a finished run for the terminal.
func Summary(r *report.RunReport, paths []string) string {
	var b strings.Builder

	b.WriteString(StyleHeader.Render("Video Resolution Scan Results"))
	b.WriteString("\n")

	rows := [][2]string{
		{"Run ID", r.ID},
		{"Resolution Criteria", r.Criteria.Description()},
		{"Source Directory", r.SourceDirectory},
		{"Total Files Found", fmt.Sprint(r.TotalFiles)},
		{"Successfully Processed", fmt.Sprint(r.ProcessedFiles)},
		{"Errors", errorCount(r.ErrorFiles)},
		{"Matching Videos Found", StyleSuccess.Render(fmt.Sprint(r.MatchCount()))},
	}
	if s := r.Statistics; s != nil {
		rows = append(rows,
			[2]string{"Duration", fmt.Sprintf("%.2fs", s.DurationSeconds)},
			[2]string{"Workers", fmt.Sprint(s.Workers)},
			[2]string{"Bytes Probed", humanize.Bytes(uint64(s.BytesProbed))},
		)
	}
	var table strings.Builder
	for i, row := range rows {
		if i > 0 {
			table.WriteString("\n")
		}
		table.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, StyleLabel.Render(row[0]+":"), row[1]))
	}
	b.WriteString(StylePane.Render(table.String()))
	b.WriteString("\n")

	if len(r.MatchingFiles) > 0 {
		b.WriteString(fmt.Sprintf("\nVideos matching %s:\n", r.Criteria.Description()))
		for i, m := range r.MatchingFiles {
			if i == MaxListed {
				b.WriteString(StyleMuted.Render(fmt.Sprintf("  ... and %d more", len(r.MatchingFiles)-MaxListed)) + "\n")
				break
			}
			b.WriteString(fmt.Sprintf("  %s %s (%dx%d, %s)\n",
				MatchIcon(true), m.File, m.Width, m.Height, humanize.Bytes(uint64(m.SizeBytes))))
		}
	}

	if len(r.Errors) > 0 {
		b.WriteString("\n" + StyleFailure.Render("Errors:") + "\n")
		for i, e := range r.Errors {
			if i == MaxListed {
				b.WriteString(StyleMuted.Render(fmt.Sprintf("  ... and %d more", len(r.Errors)-MaxListed)) + "\n")
				break
			}
			b.WriteString(fmt.Sprintf("  %s: %s\n", e.File, e.Error))
		}
	}

	if len(paths) > 0 {
		b.WriteString("\n" + StyleMuted.Render("Reports:") + "\n")
		for _, p := range paths {
			b.WriteString("  " + p + "\n")
		}
	}

	return b.String()
}

// Probe renders the result of probing a single file.
func Probe(path string, info *extractor.VideoInfo, criteria report.Criteria, matched bool) string {
	lines := []string{
		StyleLabel.Render("File:") + path,
		StyleLabel.Render("Dimensions:") + fmt.Sprintf("%dx%d", info.Width, info.Height),
	}
	if info.Codec != "" {
		lines = append(lines, StyleLabel.Render("Codec:")+info.Codec)
	}
	if info.Duration > 0 {
		lines = append(lines, StyleLabel.Render("Duration:")+info.Duration.String())
	}
	if info.FrameRate > 0 {
		lines = append(lines, StyleLabel.Render("Frame Rate:")+fmt.Sprintf("%.3f fps", info.FrameRate))
	}
	verdict := StyleMuted.Render("no match")
	if matched {
		verdict = StyleSuccess.Render("match")
	}
	lines = append(lines, StyleLabel.Render(criteria.Description()+":")+MatchIcon(matched)+" "+verdict)
	return StylePane.Render(strings.Join(lines, "\n")) + "\n"
}

// History renders a run listing, newest first.
func History(runs []store.RunSummary) string {
	if len(runs) == 0 {
		return StyleMuted.Render("No runs recorded.") + "\n"
	}

	var b strings.Builder
	b.WriteString(StyleHeader.Render("Scan History") + "\n")
	for _, r := range runs {
		b.WriteString(fmt.Sprintf("%s  %s  %-18s %4d files  %s  %s  %s\n",
			r.ID,
			r.ScanTimestamp.Local().Format("2006-01-02 15:04:05"),
			r.Comparison+" "+r.Resolution,
			r.TotalFiles,
			StyleSuccess.Render(fmt.Sprintf("%d matches", r.MatchingFiles)),
			errorCount(r.ErrorFiles)+" errors",
			StyleMuted.Render(r.SourceDirectory),
		))
	}
	return b.String()
}

func errorCount(n int) string {
	if n == 0 {
		return fmt.Sprint(n)
	}
	return StyleWarning.Render(fmt.Sprint(n))
}
