// Package integration queries the SQL Server document-tracking database that
// records packages exchanged between the trading platform and the EIS.
package integration

import (
	"context"
	"strconv"
	"time"
)

// ReportSummary is the number of failed packages of one document type
type ReportSummary struct {
	DocumentType string `db:"TypeDocument"`
	Amount       int    `db:"Amount"`
}

// ReportPackage is one failed package listed in the error report
type ReportPackage struct {
	DocumentType string     `db:"DocumentType"`
	Violations   string     `db:"Violations"`
	Direction    string     `db:"InOut"`
	ObjectID     string     `db:"ObjectId"`
	LastSendDate *time.Time `db:"LastSendDate"`
}

// ErrorReport is the result of an error-integration query
type ErrorReport struct {
	From        time.Time
	GeneratedAt time.Time
	Summary     []ReportSummary
	Packages    []ReportPackage
}

// Empty reports whether nothing failed in the window
func (r *ErrorReport) Empty() bool {
	return r == nil || len(r.Packages) == 0
}

// Total is the number of failed packages across all document types
func (r *ErrorReport) Total() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, s := range r.Summary {
		total += s.Amount
	}
	return total
}

// ArchiveCandidate is a document selected for archiving
type ArchiveCandidate struct {
	OOSDocID int64  `db:"OOSDocId"`
	ObjectID string `db:"ObjectId"`
	InOut    int    `db:"InOut"`
	IndexNum int64  `db:"IndexNum"`
}

// ArchiveResult describes a committed archive batch
type ArchiveResult struct {
	Archived        int
	LastNumAdjusted int
	ArchivedDocIDs  []int64
}

// PendingPackage is a reference-data package stuck in processing
type PendingPackage struct {
	PackageID   int64     `db:"PackageId"`
	CreateDate  time.Time `db:"CreateDate"`
	DaysPending int       `db:"DaysPending"`
}

// ProcedureDocument is one document exchanged for a procedure
type ProcedureDocument struct {
	Direction          string     `db:"act"`
	Violations         string     `db:"violationsXML"`
	OOSDocID           int64      `db:"OOSDocId"`
	ProtocolNumber     *string    `db:"protocolNumber"`
	IndexNum           *int64     `db:"indexNum"`
	State              int        `db:"state"`
	DocType            string     `db:"docType"`
	OOSDocGUID         string     `db:"OOSDocGuid"`
	CreateDate         time.Time  `db:"CreateDate"`
	LastSendDate       *time.Time `db:"LastSendDate"`
	DocID              *string    `db:"docID"`
	WaitingDescription *string    `db:"WaitingDescription"`
}

// ReportSource builds the error-integration report
type ReportSource interface {
	ErrorReport(ctx context.Context, from time.Time) (*ErrorReport, error)
}

// Archiver archives documents that failed with the known Kind violation
type Archiver interface {
	ArchiveKindErrors(ctx context.Context) (*ArchiveResult, error)
}

// PackageMonitor finds reference-data packages pending too long
type PackageMonitor interface {
	PendingKTRUPackages(ctx context.Context) ([]PendingPackage, error)
}

// ProcedureSource lists the documents of one procedure
type ProcedureSource interface {
	ProcedureDocuments(ctx context.Context, procedureID string) ([]ProcedureDocument, error)
}

// StateDescription names a document state code
func StateDescription(state int) string {
	switch state {
	case -1:
		return "Error"
	case -2:
		return "Warning"
	case 0:
		return "Processing"
	case 1:
		return "Validated"
	case 2:
		return "Awaiting acceptance"
	case 3:
		return "Accepted"
	case -3:
		return "Archived"
	default:
		return strconv.Itoa(state)
	}
}
