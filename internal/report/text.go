package report

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/inbucket/html2text"

	"integration-report-bot/internal/integration"
)

// MaxMessageLength is the Telegram limit for a single text message
const MaxMessageLength = 4096

// MonitoringListLimit caps how many packages an alert lists
const MonitoringListLimit = 15

// PlainText converts an HTML fragment to readable plain text
func PlainText(htmlContent string) (string, error) {
	text, err := html2text.FromString(htmlContent, html2text.Options{
		PrettyTables: true,
		OmitLinks:    true,
	})
	if err != nil {
		return "", fmt.Errorf("convert html to text: %w", err)
	}
	return text, nil
}

// ReportSummary is the Telegram HTML message sent with the report document
func (r *Renderer) ReportSummary(rep *integration.ErrorReport) string {
	var sb strings.Builder

	sb.WriteString("📊 <b>Integration error report</b>\n")
	fmt.Fprintf(&sb, "Period: %s – %s\n", r.formatTime(rep.From), r.formatTime(rep.GeneratedAt))
	fmt.Fprintf(&sb, "Important packages with errors: <b>%d</b>\n\n", rep.Total())

	for _, s := range rep.Summary {
		fmt.Fprintf(&sb, "• %s: %d\n", html.EscapeString(s.DocumentType), s.Amount)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// ReportCaption is the document caption for the HTML report
func (r *Renderer) ReportCaption(rep *integration.ErrorReport) string {
	return fmt.Sprintf("📈 HTML report: %d important packages since %s", rep.Total(), r.formatTime(rep.From))
}

// NoErrorsText is sent on demand when the window has no failures
func (r *Renderer) NoErrorsText(rep *integration.ErrorReport) string {
	return fmt.Sprintf("✅ No integration errors since %s.", r.formatTime(rep.From))
}

// ArchiveSummary is the plain-text notice broadcast after an archive run
func (r *Renderer) ArchiveSummary(res *integration.ArchiveResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🗄 Archived %d document(s) that failed with the Kind NULL-insert violation.", res.Archived)
	if res.LastNumAdjusted > 0 {
		fmt.Fprintf(&sb, "\nObject counters adjusted: %d.", res.LastNumAdjusted)
	}
	return sb.String()
}

// MonitoringAlert is the Telegram HTML alert for stuck KTRU packages
func (r *Renderer) MonitoringAlert(pkgs []integration.PendingPackage) string {
	var sb strings.Builder

	sb.WriteString("📊 <b>KTRU package monitoring</b>\n")
	fmt.Fprintf(&sb, "⏰ Checked at: %s\n\n", r.formatTime(r.now()))

	if len(pkgs) == 0 {
		sb.WriteString("✅ <b>All KTRU packages processed</b>\n")
		sb.WriteString("ℹ️ No packages pending for more than 1 day")
		return sb.String()
	}

	fmt.Fprintf(&sb, "🚨 <b>Stuck packages found: %d</b>\n", len(pkgs))
	sb.WriteString("⚠️ These packages have been processing for more than 1 day:\n\n")

	for i, p := range pkgs {
		if i == MonitoringListLimit {
			break
		}
		fmt.Fprintf(&sb, "• ID: %d\n", p.PackageID)
		fmt.Fprintf(&sb, "  Created: %s\n", r.formatTime(p.CreateDate))
		fmt.Fprintf(&sb, "  Pending: %d days\n\n", p.DaysPending)
	}

	if len(pkgs) > MonitoringListLimit {
		fmt.Fprintf(&sb, "... and %d more packages", len(pkgs)-MonitoringListLimit)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// SplitMessage splits text into parts of at most limit characters, breaking
// on line boundaries. Lines longer than limit are cut.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			parts = append(parts, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		for utf8.RuneCountInString(line) > limit {
			flush()
			head, tail := cutRunes(line, limit)
			parts = append(parts, head)
			line = tail
		}

		lineLen := utf8.RuneCountInString(line)
		sep := 0
		if currentLen > 0 {
			sep = 1
		}
		if currentLen+sep+lineLen > limit {
			flush()
			sep = 0
		}
		if sep == 1 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
		currentLen += sep + lineLen
	}
	flush()

	return parts
}

func cutRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
