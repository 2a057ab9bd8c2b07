package reports

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	handLoanSheet = "Hand Loans"
	summarySheet  = "Summary"
	exportURLTTL  = 15 * time.Minute
)

var handLoanHeadings = []string{
	"Hand Loan No", "Party", "Organization", "Created", "Status", "Loan Amount", "Balance", "Recovered", "Phone", "Narration",
}

type handLoanRow models.HandLoan

func (r handLoanRow) GetCellValues() []interface{} {
	l := models.HandLoan(r)
	return []interface{}{
		l.HandLoanNumber,
		l.PartyName,
		l.Organization.Name,
		l.CreatedDate,
		string(l.Status),
		l.LoanAmount.InexactFloat64(),
		l.BalanceAmount.InexactFloat64(),
		l.RecoveredAmount().InexactFloat64(),
		l.PhoneNo,
		l.Narration,
	}
}

type summaryRow struct {
	label string
	value interface{}
}

func (r summaryRow) GetCellValues() []interface{} {
	return []interface{}{r.label, r.value}
}

// HandLoanWorkbook renders loans and their summary as an xlsx file.
func HandLoanWorkbook(loans []models.HandLoan, summary models.HandLoanSummary, mode models.ViewMode) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	rows := make([]ExcelExporter, len(loans))
	for i, l := range loans {
		rows[i] = handLoanRow(l)
	}
	if err := writeSheet(f, handLoanSheet, handLoanHeadings, rows); err != nil {
		return nil, err
	}

	summaryRows := []ExcelExporter{
		summaryRow{"View", string(mode)},
		summaryRow{"Total Loans", summary.TotalLoans},
		summaryRow{"Total Issued", summary.TotalIssued.InexactFloat64()},
		summaryRow{"Total Balance", summary.TotalBalance.InexactFloat64()},
		summaryRow{"Total Recovered", summary.TotalRecovered.InexactFloat64()},
		summaryRow{"Recovery Rate (%)", summary.RecoveryRate.InexactFloat64()},
	}
	if summary.Truncated {
		summaryRows = append(summaryRows, summaryRow{"Note", "Only the first pages were exported"})
	}
	if err := writeSheet(f, summarySheet, []string{"Metric", "Value"}, summaryRows); err != nil {
		return nil, err
	}

	index, err := f.GetSheetIndex(handLoanSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	return workbookBytes(f)
}

type HandLoanExport struct {
	FileName  string    `json:"fileName"`
	Data      []byte    `json:"-"`
	URL       string    `json:"url,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// ExportHandLoans builds the workbook for a list mode. With EXPORT_BUCKET set the
// file goes to Cloud Storage and only a signed URL is returned.
func ExportHandLoans(ctx context.Context, mode models.ViewMode, orgID upstream.ID) (*HandLoanExport, error) {
	if mode == models.ViewModeRecovered {
		return nil, models.NewValidationError("view", "export covers ISSUED, CLOSED or ALL")
	}
	loans, truncated, err := models.FetchAllHandLoans(ctx, mode, orgID)
	if err != nil {
		return nil, err
	}
	summary := models.SummarizeHandLoans(loans)
	summary.Scope = models.SummaryScopeAll
	summary.Truncated = truncated

	data, err := HandLoanWorkbook(loans, summary, mode)
	if err != nil {
		return nil, err
	}
	export := &HandLoanExport{
		FileName: fmt.Sprintf("handloans-%s-%s.xlsx", mode, time.Now().Format("20060102")),
		Data:     data,
	}

	bucket := config.ExportBucket()
	if bucket == "" {
		return export, nil
	}
	object := fmt.Sprintf("exports/handloans/%s/%s", uuid.NewString(), export.FileName)
	url, expiresAt, err := utils.UploadExport(ctx, bucket, object, XlsxContentType, data, exportURLTTL)
	if err != nil {
		return nil, err
	}
	export.URL = url
	export.ExpiresAt = expiresAt
	export.Data = nil
	return export, nil
}
