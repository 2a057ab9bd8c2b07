package reports

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestHandLoanWorkbook(t *testing.T) {
	loans := []models.HandLoan{
		{
			HandLoanNumber: "HL-1",
			PartyName:      "Ravi",
			Organization:   models.Organization{ID: "5", Name: "Head Office"},
			Status:         models.HandLoanStatusPartiallyRecovered,
			LoanAmount:     decimal.NewFromInt(500),
			BalanceAmount:  decimal.NewFromInt(200),
		},
	}
	summary := models.SummarizeHandLoans(loans)

	data, err := HandLoanWorkbook(loans, summary, models.ViewModeIssued)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{handLoanSheet, summarySheet}, f.GetSheetList())

	header, err := f.GetCellValue(handLoanSheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Hand Loan No", header)

	party, err := f.GetCellValue(handLoanSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Ravi", party)

	recovered, err := f.GetCellValue(handLoanSheet, "H2")
	require.NoError(t, err)
	assert.Equal(t, "300", recovered)

	rate, err := f.GetCellValue(summarySheet, "B7")
	require.NoError(t, err)
	assert.Equal(t, "60", rate)
}

func TestExportHandLoans_WithoutBucketReturnsFile(t *testing.T) {
	t.Setenv("EXPORT_BUCKET", "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/handloans/getHandLoansByOrgIdAndStatus", r.URL.Path)
		_, _ = w.Write([]byte(`{"content":[{"id":1,"partyName":"A","loanAmount":10}],"number":0,"size":100,"totalPages":1,"totalElements":1}`))
	}))
	defer server.Close()
	upstream.SetDefault(upstream.NewClient(server.URL, 2*time.Second, 0))
	defer upstream.SetDefault(nil)

	export, err := ExportHandLoans(context.Background(), models.ViewModeClosed, "")
	require.NoError(t, err)
	assert.Contains(t, export.FileName, "handloans-CLOSED-")
	assert.NotEmpty(t, export.Data)
	assert.Empty(t, export.URL)

	_, err = ExportHandLoans(context.Background(), models.ViewModeRecovered, "")
	assert.True(t, models.IsValidationError(err))
}
