// Package report renders query results into HTML documents and Telegram
// message text.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"integration-report-bot/internal/integration"
)

const timeLayout = "02.01.2006 15:04"

// Renderer renders reports using html/template. Times are shown in loc.
type Renderer struct {
	tmpl *template.Template
	loc  *time.Location
	now  func() time.Time
}

// NewRenderer parses the embedded templates. A nil loc means time.Local.
func NewRenderer(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.Local
	}

	r := &Renderer{loc: loc, now: time.Now}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatTime":    r.formatTime,
		"formatTimePtr": r.formatTimePtr,
		"deref":         deref,
		"stateName":     integration.StateDescription,
	}).Parse(errorReportTemplate + procedureTemplate + procedureSummaryTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report templates: %w", err)
	}

	r.tmpl = tmpl
	return r, nil
}

func (r *Renderer) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(r.loc).Format(timeLayout)
}

func (r *Renderer) formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return r.formatTime(*t)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ErrorReport writes the full error-integration report as an HTML page
func (r *Renderer) ErrorReport(w io.Writer, rep *integration.ErrorReport) error {
	view := errorReportView{ErrorReport: *rep, Title: "Integration error report"}
	view.Packages = sortedPackages(rep.Packages)

	if err := r.tmpl.ExecuteTemplate(w, "errorReport", &view); err != nil {
		return fmt.Errorf("render error report: %w", err)
	}
	return nil
}

type errorReportView struct {
	integration.ErrorReport
	Title string
}

type procedureView struct {
	Title       string
	ProcedureID string
	GeneratedAt time.Time
	Documents   []integration.ProcedureDocument
}

func (r *Renderer) procedureView(procedureID string, docs []integration.ProcedureDocument) procedureView {
	return procedureView{
		Title:       "Procedure " + procedureID,
		ProcedureID: procedureID,
		GeneratedAt: r.now(),
		Documents:   sortedDocuments(docs),
	}
}

// Procedure writes the per-procedure document report as an HTML page
func (r *Renderer) Procedure(w io.Writer, procedureID string, docs []integration.ProcedureDocument) error {
	if err := r.tmpl.ExecuteTemplate(w, "procedure", r.procedureView(procedureID, docs)); err != nil {
		return fmt.Errorf("render procedure report: %w", err)
	}
	return nil
}

// ProcedureSummary returns a plain-text digest of the procedure documents
// suitable for a chat message.
func (r *Renderer) ProcedureSummary(procedureID string, docs []integration.ProcedureDocument) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "procedureSummary", r.procedureView(procedureID, docs)); err != nil {
		return "", fmt.Errorf("render procedure summary: %w", err)
	}
	return PlainText(buf.String())
}

// sortedPackages orders packages by last send date, newest first
func sortedPackages(pkgs []integration.ReportPackage) []integration.ReportPackage {
	out := slices.Clone(pkgs)
	slices.SortStableFunc(out, func(a, b integration.ReportPackage) int {
		return compareTimePtrDesc(a.LastSendDate, b.LastSendDate)
	})
	return out
}

// sortedDocuments orders documents by last send date, newest first
func sortedDocuments(docs []integration.ProcedureDocument) []integration.ProcedureDocument {
	out := slices.Clone(docs)
	slices.SortStableFunc(out, func(a, b integration.ProcedureDocument) int {
		return compareTimePtrDesc(a.LastSendDate, b.LastSendDate)
	})
	return out
}

// compareTimePtrDesc sorts nil last
func compareTimePtrDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return b.Compare(*a)
	}
}

// WriteTemp renders into a new file named <prefix>_<uuid>.html in dir
// (os.TempDir when empty) and returns its path. The caller removes the file.
func WriteTemp(dir, prefix string, render func(io.Writer) error) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	name := prefix + "_" + uuid.NewString() + ".html"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	path := f.Name()
	if err := render(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}
