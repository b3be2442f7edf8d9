package integration

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "integration-report-bot/internal/errors"
)

func TestShouldDecrementLastNum(t *testing.T) {
	tests := []struct {
		name     string
		lastNum  sql.NullInt64
		indexNum int64
		want     bool
	}{
		{"matches last issued", sql.NullInt64{Int64: 5, Valid: true}, 5, true},
		{"older document", sql.NullInt64{Int64: 5, Valid: true}, 3, false},
		{"first document is kept", sql.NullInt64{Int64: 1, Valid: true}, 1, false},
		{"no counter", sql.NullInt64{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldDecrementLastNum(tt.lastNum, tt.indexNum))
		})
	}
}

func TestStateDescription(t *testing.T) {
	assert.Equal(t, "Error", StateDescription(-1))
	assert.Equal(t, "Warning", StateDescription(-2))
	assert.Equal(t, "Processing", StateDescription(0))
	assert.Equal(t, "Validated", StateDescription(1))
	assert.Equal(t, "Awaiting acceptance", StateDescription(2))
	assert.Equal(t, "Accepted", StateDescription(3))
	assert.Equal(t, "42", StateDescription(42))
}

func TestErrorReportTotals(t *testing.T) {
	var nilReport *ErrorReport
	assert.True(t, nilReport.Empty())
	assert.Equal(t, 0, nilReport.Total())

	report := &ErrorReport{
		Summary: []ReportSummary{
			{DocumentType: "epProtocolEF2020FinalPart", Amount: 2},
			{DocumentType: "epNotificationEOK", Amount: 3},
		},
		Packages: make([]ReportPackage, 5),
	}
	assert.False(t, report.Empty())
	assert.Equal(t, 5, report.Total())
}

func TestUnavailableTagsQueryFailures(t *testing.T) {
	err := unavailable("query", errors.New("connection refused"))
	assert.ErrorIs(t, err, apperrors.ErrDataSourceUnavailable)
	assert.Equal(t, apperrors.ErrDataSourceUnavailable.UserMsg, apperrors.GetUserMessage(err))
	assert.True(t, apperrors.IsRetryable(err))

	err = unavailable("query", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrDataSourceUnavailable)
}
