package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"integration-report-bot/internal/config"
	apperrors "integration-report-bot/internal/errors"
)

// DriverName is the database/sql driver registered by go-mssqldb
const DriverName = "sqlserver"

// Client implements ReportSource, Archiver, PackageMonitor and
// ProcedureSource over a SQL Server connection pool.
type Client struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient opens the connection pool. No connection is made until the
// first query; call Ping to verify connectivity.
func NewClient(cfg config.DatabaseConfig, logger *slog.Logger) (*Client, error) {
	db, err := sqlx.Open(DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open integration database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Client{
		db:      db,
		timeout: cfg.CommandTimeout,
		logger:  logger.With("component", "integration"),
		now:     time.Now,
	}, nil
}

// Ping checks that the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the connection pool
func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// unavailable tags a query failure so handlers can show a specific message.
// Cancellation by the caller is passed through untagged.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrDataSourceUnavailable, err)
}

const reportDocTypeFilter = `(docType IN ('epProtocolEZK2020FinalPart', 'epProtocolEF2020FinalPart')
			OR docType LIKE 'epNotificationE%')`

// ErrorReport returns failed packages created at or after from
func (c *Client) ErrorReport(ctx context.Context, from time.Time) (*ErrorReport, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	report := &ErrorReport{From: from, GeneratedAt: c.now()}

	err := c.db.SelectContext(ctx, &report.Summary, `
		SELECT COUNT(*) AS Amount, docType AS TypeDocument
		FROM dbo.docOOSdoc WITH (NOLOCK)
		WHERE CreateDate >= @DateFrom
			AND `+reportDocTypeFilter+`
			AND state IN (-1, -2)
		GROUP BY docType
		ORDER BY docType`,
		sql.Named("DateFrom", from))
	if err != nil {
		return nil, unavailable("query report summary", err)
	}

	err = c.db.SelectContext(ctx, &report.Packages, `
		SELECT docType AS DocumentType,
			ISNULL(CAST(violations AS NVARCHAR(MAX)), '') AS Violations,
			InOut = CASE
				WHEN InOut = 0 THEN 'AST --> EIS'
				WHEN InOut = 1 THEN 'AST <-- EIS'
				ELSE ''
			END,
			CAST(ObjectId AS NVARCHAR(64)) AS ObjectId,
			LastSendDate
		FROM dbo.docOOSdoc WITH (NOLOCK)
		WHERE `+reportDocTypeFilter+`
			AND CreateDate >= @DateFrom
			AND state IN (-1, -2)
		ORDER BY docType, LastSendDate`,
		sql.Named("DateFrom", from))
	if err != nil {
		return nil, unavailable("query report packages", err)
	}

	c.logger.Debug("error report queried",
		"from", from,
		"types", len(report.Summary),
		"packages", len(report.Packages),
	)
	return report, nil
}

const kindViolation = `Cannot insert the value NULL into column ''Kind'', table ''CDB.dbo.prmPersonAll''; column does not allow nulls. INSERT fails.`

// ArchiveKindErrors archives every warning-state document that failed with
// the Kind NULL-insert violation. The whole batch runs in one transaction;
// any failure rolls everything back.
func (c *Client) ArchiveKindErrors(ctx context.Context) (*ArchiveResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin archive transaction", err)
	}
	defer tx.Rollback()

	var docs []ArchiveCandidate
	err = tx.SelectContext(ctx, &docs, `
		SELECT OOSDocId, CAST(ObjectId AS NVARCHAR(64)) AS ObjectId, InOut, ISNULL(IndexNum, 0) AS IndexNum
		FROM docoosdoc
		WHERE violations LIKE '`+kindViolation+`'
			AND state = -2`)
	if err != nil {
		return nil, unavailable("select archive candidates", err)
	}

	result := &ArchiveResult{}
	if len(docs) == 0 {
		return result, nil
	}

	for _, doc := range docs {
		adjusted, err := adjustLastNum(ctx, tx, doc)
		if err != nil {
			return nil, fmt.Errorf("archive document %d: %w", doc.OOSDocID, err)
		}
		if adjusted {
			result.LastNumAdjusted++
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE docoosdoc SET State = -3 WHERE OOSDocId = @OOSDocId",
			sql.Named("OOSDocId", doc.OOSDocID))
		if err != nil {
			return nil, unavailable(fmt.Sprintf("archive document %d", doc.OOSDocID), err)
		}
		result.ArchivedDocIDs = append(result.ArchivedDocIDs, doc.OOSDocID)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit archive transaction", err)
	}

	result.Archived = len(result.ArchivedDocIDs)
	c.logger.Info("documents archived",
		"archived", result.Archived,
		"lastnum_adjusted", result.LastNumAdjusted,
	)
	return result, nil
}

// adjustLastNum decrements the object's counter when the archived document
// is the last one issued and not the first.
func adjustLastNum(ctx context.Context, tx *sqlx.Tx, doc ArchiveCandidate) (bool, error) {
	var lastNum sql.NullInt64
	err := tx.GetContext(ctx, &lastNum, `
		SELECT lastnum FROM oosObject
		WHERE ObjectId = @ObjectId AND InOut = @InOut`,
		sql.Named("ObjectId", doc.ObjectID),
		sql.Named("InOut", doc.InOut))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("read lastnum", err)
	}

	if !ShouldDecrementLastNum(lastNum, doc.IndexNum) {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE oosObject SET lastnum = lastnum - 1
		WHERE ObjectId = @ObjectId AND InOut = @InOut`,
		sql.Named("ObjectId", doc.ObjectID),
		sql.Named("InOut", doc.InOut))
	if err != nil {
		return false, unavailable("decrement lastnum", err)
	}
	return true, nil
}

// ShouldDecrementLastNum reports whether the object counter must step back
// when a document with indexNum is archived.
func ShouldDecrementLastNum(lastNum sql.NullInt64, indexNum int64) bool {
	return lastNum.Valid && lastNum.Int64 == indexNum && lastNum.Int64 != 1
}

// PendingKTRUPackages lists KTRU packages still loading after more than a
// day, created within the last month, oldest first.
func (c *Client) PendingKTRUPackages(ctx context.Context) ([]PendingPackage, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var packages []PendingPackage
	err := c.db.SelectContext(ctx, &packages, `
		SELECT Id AS PackageId,
			CreateDate,
			DATEDIFF(day, CreateDate, GETDATE()) AS DaysPending
		FROM [CDB].[dbo].[UnIntFileLoad] WITH (NOLOCK)
		WHERE entitytype = 'nsiKTRUs'
			AND loadstatus = 1
			AND createdate > DATEADD(MONTH, -1, GETDATE())
			AND DATEDIFF(day, CreateDate, GETDATE()) > 1
		ORDER BY CreateDate ASC`)
	if err != nil {
		return nil, unavailable("query pending ktru packages", err)
	}

	c.logger.Debug("ktru packages queried", "count", len(packages))
	return packages, nil
}

// ProcedureDocuments lists non-archived documents of a procedure in
// document order
func (c *Client) ProcedureDocuments(ctx context.Context, procedureID string) ([]ProcedureDocument, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var docs []ProcedureDocument
	err := c.db.SelectContext(ctx, &docs, `
		SELECT
			act = CASE
				WHEN docOut.InOut = 0 THEN 'AST --> EIS'
				WHEN docOut.InOut = 1 THEN 'AST <-- EIS'
				ELSE ''
			END,
			violationsXML = ISNULL(TRY_CAST(docOut.violations AS NVARCHAR(MAX)), ''),
			docOut.OOSDocId,
			protocolNumber = COALESCE(
				CAST(docOut.data AS XML).value('(//*:protocolNumber)[1]', 'NVARCHAR(MAX)'),
				CAST(docOut.data AS XML).value('(//*:canceledProtocolNumber)[1]', 'NVARCHAR(MAX)'),
				CAST(docOut.data AS XML).value('(//*:docNumber)[1]', 'NVARCHAR(MAX)'),
				CAST(docOut.data AS XML).value('(//*:docNumberExternal)[1]', 'NVARCHAR(MAX)'),
				CAST(docOut.data AS XML).value('(//foundation/order/foundationProtocolNumber)[1]', 'NVARCHAR(MAX)')
			),
			docOut.indexNum,
			docOut.state,
			docOut.docType,
			OOSDocGuid = LOWER(CAST(docOut.OOSDocGuid AS NVARCHAR(36))),
			docOut.CreateDate,
			docOut.LastSendDate,
			docID = CAST(docOut.docID AS NVARCHAR(128)),
			docOut.WaitingDescription
		FROM v_docOOSDoc docOut WITH (NOLOCK)
		WHERE docOut.ObjectId = @pcode
			AND docOut.state <> -3
		ORDER BY docOut.ObjectId, docOut.OOSDocId ASC`,
		sql.Named("pcode", procedureID))
	if err != nil {
		return nil, unavailable("query procedure documents", err)
	}

	c.logger.Debug("procedure documents queried", "procedure", procedureID, "count", len(docs))
	return docs, nil
}
