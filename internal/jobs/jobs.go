package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"integration-report-bot/internal/config"
	"integration-report-bot/internal/integration"
	"integration-report-bot/internal/messenger"
	"integration-report-bot/internal/report"
	"integration-report-bot/internal/scheduler"
)

// Job names as typed in /enablejob and /disablejob
const (
	ReportJobName     = "reportjob"
	ArchiveJobName    = "archivejob"
	MonitoringJobName = "monitoringjob"
)

// Names lists every job in registration order
var Names = []string{ReportJobName, ArchiveJobName, MonitoringJobName}

// BuiltReport is a rendered error report. Close removes the HTML file.
type BuiltReport struct {
	Report   *integration.ErrorReport
	Path     string
	FileName string
}

// Close removes the temp file. Safe to call on an empty report.
func (r *BuiltReport) Close() error {
	if r == nil || r.Path == "" {
		return nil
	}
	err := os.Remove(r.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove report file: %w", err)
	}
	return nil
}

// Document is the attachment for the rendered file
func (r *BuiltReport) Document() messenger.Document {
	return messenger.Document{Path: r.Path, Name: r.FileName}
}

// ReportBuilder queries and renders the error-integration report. Used by
// the report job and the /geterrorintegration command.
type ReportBuilder struct {
	source   integration.ReportSource
	renderer *report.Renderer
	lookback time.Duration
	tempDir  string
	now      func() time.Time
}

// NewReportBuilder creates a report builder
func NewReportBuilder(source integration.ReportSource, renderer *report.Renderer, cfg config.ReportConfig) *ReportBuilder {
	return &ReportBuilder{
		source:   source,
		renderer: renderer,
		lookback: cfg.Lookback,
		tempDir:  cfg.TempDir,
		now:      time.Now,
	}
}

// Renderer returns the renderer used for message text
func (b *ReportBuilder) Renderer() *report.Renderer {
	return b.renderer
}

// Build queries the lookback window. When nothing failed, Path is empty and
// no file is written.
func (b *ReportBuilder) Build(ctx context.Context) (*BuiltReport, error) {
	now := b.now()

	rep, err := b.source.ErrorReport(ctx, now.Add(-b.lookback))
	if err != nil {
		return nil, fmt.Errorf("query error report: %w", err)
	}

	built := &BuiltReport{Report: rep}
	if rep.Empty() {
		return built, nil
	}

	path, err := report.WriteTemp(b.tempDir, "report_"+now.Format("20060102_150405"), func(w io.Writer) error {
		return b.renderer.ErrorReport(w, rep)
	})
	if err != nil {
		return nil, fmt.Errorf("write error report: %w", err)
	}

	built.Path = path
	built.FileName = "report_" + now.Format("20060102") + ".html"
	return built, nil
}

// ReportJob broadcasts the daily error-integration report
type ReportJob struct {
	builder     *ReportBuilder
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewReportJob creates the report job
func NewReportJob(builder *ReportBuilder, broadcaster *Broadcaster, logger *slog.Logger) *ReportJob {
	return &ReportJob{
		builder:     builder,
		broadcaster: broadcaster,
		logger:      logger.With("job", ReportJobName),
	}
}

// Run sends the report summary and HTML document to every subscriber
func (j *ReportJob) Run(ctx context.Context) error {
	recipients := j.broadcaster.Recipients()
	if len(recipients) == 0 {
		j.logger.Info("no subscribers, nothing to send")
		return nil
	}

	built, err := j.builder.Build(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Close(); err != nil {
			j.logger.Warn("failed to remove report file", "path", built.Path, "error", err)
		}
	}()

	if built.Report.Empty() {
		j.logger.Info("no report data, nothing to send")
		return nil
	}

	renderer := j.builder.Renderer()
	summary := j.broadcaster.Broadcast(ctx, recipients, Sequence(
		Text(renderer.ReportSummary(built.Report), messenger.HTML),
		Document(built.Document(), renderer.ReportCaption(built.Report)),
	))

	j.logger.Info("report sent",
		"packages", built.Report.Total(),
		"delivered", summary.Delivered,
		"blocked", summary.Blocked,
		"failed", summary.Failed,
	)
	return ctx.Err()
}

// ArchiveJob archives documents with the Kind violation and reports the count
type ArchiveJob struct {
	archiver    integration.Archiver
	renderer    *report.Renderer
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewArchiveJob creates the archive job
func NewArchiveJob(archiver integration.Archiver, renderer *report.Renderer, broadcaster *Broadcaster, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:    archiver,
		renderer:    renderer,
		broadcaster: broadcaster,
		logger:      logger.With("job", ArchiveJobName),
	}
}

// Run archives in one transaction and broadcasts a plain-text summary when
// anything was archived
func (j *ArchiveJob) Run(ctx context.Context) error {
	res, err := j.archiver.ArchiveKindErrors(ctx)
	if err != nil {
		return fmt.Errorf("archive documents: %w", err)
	}

	if res.Archived == 0 {
		j.logger.Info("no documents to archive")
		return nil
	}

	j.logger.Info("documents archived", "count", res.Archived, "lastnum_adjusted", res.LastNumAdjusted)

	recipients := j.broadcaster.Recipients()
	if len(recipients) == 0 {
		j.logger.Info("no subscribers, summary not sent")
		return nil
	}

	j.broadcaster.Broadcast(ctx, recipients, Text(j.renderer.ArchiveSummary(res), messenger.PlainText))
	return ctx.Err()
}

// MonitoringJob alerts subscribers about stuck KTRU packages
type MonitoringJob struct {
	monitor     integration.PackageMonitor
	renderer    *report.Renderer
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewMonitoringJob creates the monitoring job
func NewMonitoringJob(monitor integration.PackageMonitor, renderer *report.Renderer, broadcaster *Broadcaster, logger *slog.Logger) *MonitoringJob {
	return &MonitoringJob{
		monitor:     monitor,
		renderer:    renderer,
		broadcaster: broadcaster,
		logger:      logger.With("job", MonitoringJobName),
	}
}

// Run broadcasts an alert when packages are stuck; otherwise logs only
func (j *MonitoringJob) Run(ctx context.Context) error {
	pkgs, err := j.monitor.PendingKTRUPackages(ctx)
	if err != nil {
		return fmt.Errorf("query pending packages: %w", err)
	}

	if len(pkgs) == 0 {
		j.logger.Info("no stuck ktru packages")
		return nil
	}

	j.logger.Warn("stuck ktru packages found", "count", len(pkgs))

	recipients := j.broadcaster.Recipients()
	if len(recipients) == 0 {
		j.logger.Info("no subscribers, alert not sent")
		return nil
	}

	j.broadcaster.Broadcast(ctx, recipients, Text(j.renderer.MonitoringAlert(pkgs), messenger.HTML))
	return ctx.Err()
}

// Register adds the three jobs to s with the configured schedules
func Register(s *scheduler.Scheduler, cfg config.JobsConfig, reportJob *ReportJob, archiveJob *ArchiveJob, monitoringJob *MonitoringJob) error {
	defs := []scheduler.Job{
		{
			Name:        ReportJobName,
			Description: "Error-integration report to subscribers",
			Schedule:    cfg.Report.Cron,
			Run:         reportJob.Run,
		},
		{
			Name:        ArchiveJobName,
			Description: "Archive documents failed with the Kind violation",
			Schedule:    cfg.Archive.Cron,
			Run:         archiveJob.Run,
		},
		{
			Name:        MonitoringJobName,
			Description: "Alert on KTRU packages pending over a day",
			Schedule:    cfg.Monitoring.Cron,
			Run:         monitoringJob.Run,
		},
	}

	for _, job := range defs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}
