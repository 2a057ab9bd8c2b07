package models_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const halHandLoans = `{
  "_embedded": {"handLoans": [
    {"id": 11, "partyName": " Ravi ", "loanAmount": 500,
     "organization": {"name": "Head Office", "_links": {"self": {"href": "http://erp/api/organizations/5"}}}},
    {"id": 12, "partyName": "Meena", "loanAmount": 300, "balanceAmount": 100, "status": "PARTIALLY_RECOVERED",
     "organizationId": 5}
  ]},
  "page": {"size": 10, "totalElements": 12, "totalPages": 2, "number": 0}
}`

func TestFetchHandLoans_IssuedForOrganization(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.handle(http.MethodGet, "/handloans/getHandLoansByOrgIdAndStatus", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "5", q.Get("orgId"))
		assert.Equal(t, "ISSUED,PARTIALLY_RECOVERED", q.Get("status"))
		assert.Equal(t, "0", q.Get("page"))
		assert.Equal(t, "10", q.Get("size"))
		_, _ = w.Write([]byte(halHandLoans))
	})

	page, err := models.FetchHandLoans(context.Background(), models.ViewModeIssued, "5", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.TotalPages)
	assert.EqualValues(t, 12, page.TotalElements)

	first := page.Items[0]
	assert.Equal(t, upstream.ID("11"), first.ID)
	assert.Equal(t, "Ravi", first.PartyName)
	assert.Equal(t, "500", first.BalanceAmount.String(), "balance defaults to the loan amount")
	assert.Equal(t, models.HandLoanStatusIssued, first.Status)
	assert.Equal(t, upstream.ID("5"), first.Organization.ID)
	assert.Equal(t, "Head Office", first.Organization.Name)

	second := page.Items[1]
	assert.Equal(t, "100", second.BalanceAmount.String())
	assert.Equal(t, models.HandLoanStatusPartiallyRecovered, second.Status)
	assert.Equal(t, upstream.ID("5"), second.Organization.ID)
}

func TestFetchHandLoans_AllWithoutOrganizationUsesPlainList(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans", http.StatusOK, `[{"id":1,"partyName":"A"}]`)

	page, err := models.FetchHandLoans(context.Background(), models.ViewModeAll, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].LoanAmount.IsZero(), "missing loanAmount defaults to 0")
	assert.Equal(t, 1, fake.count(http.MethodGet, "/handloans"))
}

func TestFetchHandLoans_ClosedFilter(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.handle(http.MethodGet, "/handloans/getHandLoansByOrgIdAndStatus", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CLOSED", r.URL.Query().Get("status"))
		assert.False(t, r.URL.Query().Has("orgId"))
		_, _ = w.Write([]byte(`{"content":[],"number":0,"size":10,"totalPages":0,"totalElements":0}`))
	})

	page, err := models.FetchHandLoans(context.Background(), models.ViewModeClosed, "", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestFetchHandLoans_UnknownShapeFailsLoudly(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans", http.StatusOK, `{"items":[{"id":1}]}`)

	_, err := models.FetchHandLoans(context.Background(), models.ViewModeAll, "", 0, 10)
	assert.ErrorIs(t, err, upstream.ErrUnexpectedShape)
}

func TestFetchCurrentBalance_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "bare number", body: `1500.50`, want: "1500.5"},
		{name: "quoted number", body: `"42"`, want: "42"},
		{name: "balance field", body: `{"balance": 900}`, want: "900"},
		{name: "closingBalance field", body: `{"closingBalance": 75.25}`, want: "75.25"},
		{name: "unknown object", body: `{"amount": 1}`, wantErr: true},
		{name: "text", body: `not a number`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeUpstream(t)
			fake.handle(http.MethodGet, "/petty-cash/day-closing/balance", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "5", r.URL.Query().Get("organizationId"))
				assert.Equal(t, "2024-03-01", r.URL.Query().Get("date"))
				_, _ = w.Write([]byte(tt.body))
			})

			got, err := models.FetchCurrentBalance(context.Background(), "5", "2024-03-01")
			if tt.wantErr {
				assert.ErrorIs(t, err, upstream.ErrUnexpectedShape)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCreateHandLoan_RejectsInvalidInputWithoutRequests(t *testing.T) {
	fake := newFakeUpstream(t)

	_, err := models.CreateHandLoan(context.Background(), &models.NewHandLoan{
		PartyName:  "  ",
		LoanAmount: decimal.Zero,
		PhoneNo:    "12",
	}, nil)

	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "partyName")
	assert.Contains(t, ve.Fields, "organizationId")
	assert.Contains(t, ve.Fields, "loanAmount")
	assert.Contains(t, ve.Fields, "phoneNo")
	assert.Zero(t, fake.total())
}

func TestCreateHandLoan_AmountAboveBalanceIsNotPosted(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/petty-cash/day-closing/balance", http.StatusOK, `{"balance": 200}`)
	fake.respond(http.MethodPost, "/handloans", http.StatusCreated, `{"id": 99}`)

	_, err := models.CreateHandLoan(context.Background(), &models.NewHandLoan{
		PartyName:      "Ravi",
		OrganizationID: "5",
		LoanAmount:     decimal.NewFromInt(250),
		Date:           "2024-03-01",
	}, nil)

	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields["loanAmount"], "200.00")
	assert.Equal(t, 1, fake.count(http.MethodGet, "/petty-cash/day-closing/balance"))
	assert.Zero(t, fake.count(http.MethodPost, "/handloans"))
}

func TestCreateHandLoan_BalanceErrorPropagates(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/petty-cash/day-closing/balance", http.StatusInternalServerError, `{"message":"db down"}`)

	_, err := models.CreateHandLoan(context.Background(), &models.NewHandLoan{
		PartyName:      "Ravi",
		OrganizationID: "5",
		LoanAmount:     decimal.NewFromInt(10),
	}, nil)

	var apiErr *upstream.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Zero(t, fake.count(http.MethodPost, "/handloans"))
}

func TestCreateHandLoan_PostsMultipart(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/petty-cash/day-closing/balance", http.StatusOK, `1000`)
	fake.handle(http.MethodPost, "/handloans", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		raw := r.MultipartForm.Value["handLoan"]
		require.Len(t, raw, 1)

		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw[0]), &payload))
		assert.Equal(t, "Ravi", payload["partyName"])
		assert.EqualValues(t, 250, payload["loanAmount"])
		assert.Equal(t, "ISSUE", payload["handLoanType"])
		assert.Equal(t, map[string]any{"id": float64(5)}, payload["organization"])
		assert.Equal(t, true, payload["hasImage"])
		assert.Equal(t, "+919876543210", payload["phoneNo"], "phone numbers go upstream in E.164")

		files := r.MultipartForm.File["file"]
		require.Len(t, files, 1)
		assert.Equal(t, "receipt.pdf", files[0].Filename)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 99, "partyName": "Ravi", "loanAmount": 250, "organization": {"id": 5}}`))
	})

	loan, err := models.CreateHandLoan(context.Background(), &models.NewHandLoan{
		PartyName:      "Ravi",
		OrganizationID: "5",
		LoanAmount:     decimal.NewFromInt(250),
		PhoneNo:        "098765 43210",
		Date:           "2024-03-01",
	}, &models.Attachment{FileName: "receipt.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")})

	require.NoError(t, err)
	assert.Equal(t, upstream.ID("99"), loan.ID)
	assert.Equal(t, "250", loan.BalanceAmount.String())
	assert.Equal(t, 1, fake.count(http.MethodPost, "/handloans"))
}

func TestRecoverHandLoan_AmountAboveBalanceIsNotPosted(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans/7", http.StatusOK, `{"id":7,"partyName":"Ravi","loanAmount":500,"balanceAmount":120,"status":"PARTIALLY_RECOVERED","organizationId":5}`)

	_, err := models.RecoverHandLoan(context.Background(), "7", &models.NewRecovery{Amount: decimal.NewFromInt(150)})

	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields["amount"], "120.00")
	assert.Zero(t, fake.count(http.MethodPost, "/handloans"))
}

func TestRecoverHandLoan_ClosedLoan(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans/7", http.StatusOK, `{"id":7,"loanAmount":500,"balanceAmount":0,"status":"CLOSED"}`)

	_, err := models.RecoverHandLoan(context.Background(), "7", &models.NewRecovery{Amount: decimal.NewFromInt(1)})

	assert.True(t, models.IsValidationError(err))
	assert.Zero(t, fake.count(http.MethodPost, "/handloans"))
}

func TestRecoverHandLoan_NonPositiveAmountSkipsUpstream(t *testing.T) {
	fake := newFakeUpstream(t)

	_, err := models.RecoverHandLoan(context.Background(), "7", &models.NewRecovery{Amount: decimal.NewFromInt(-5)})

	assert.True(t, models.IsValidationError(err))
	assert.Zero(t, fake.total())
}

func TestRecoverHandLoan_PostsRecovery(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans/7", http.StatusOK, `{"id":7,"partyName":"Ravi","loanAmount":500,"balanceAmount":120,"organization":{"id":5}}`)
	fake.handle(http.MethodPost, "/handloans", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.MultipartForm.Value["handLoan"][0]), &payload))
		assert.Equal(t, "RECOVER", payload["handLoanType"])
		assert.EqualValues(t, 7, payload["mainHandLoanId"])
		assert.EqualValues(t, 120, payload["loanAmount"])
		assert.Equal(t, "Ravi", payload["partyName"])
		assert.Empty(t, r.MultipartForm.File)
		w.WriteHeader(http.StatusCreated)
	})

	recovery, err := models.RecoverHandLoan(context.Background(), "7", &models.NewRecovery{Amount: decimal.NewFromInt(120), Narration: "cash"})

	require.NoError(t, err)
	assert.Equal(t, models.HandLoanTypeRecover, recovery.HandLoanType)
	assert.Equal(t, upstream.ID("7"), recovery.MainHandLoanID)
	assert.Equal(t, 1, fake.count(http.MethodPost, "/handloans"))
}

func TestFetchRecoveries(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans/getmainloanbyid/7", http.StatusOK,
		`{"_embedded":{"handLoans":[{"id":21,"loanAmount":100,"handLoanType":"RECOVER","createdDate":"2024-03-02"},{"id":22,"loanAmount":80}]}}`)

	recoveries, err := models.FetchRecoveries(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, recoveries, 2)
	assert.Equal(t, upstream.ID("21"), recoveries[0].ID)
	assert.Equal(t, upstream.ID("7"), recoveries[0].MainHandLoanID)
	assert.Equal(t, "100", recoveries[0].Amount.String())
	assert.Equal(t, "2024-03-02", recoveries[0].CreatedDate)
}

func TestRecoverHandLoan_LockHeldByAnotherRequest(t *testing.T) {
	fake := newFakeUpstream(t)
	db, mock := redismock.NewClientMock()
	config.SetRedisDB(db)
	t.Cleanup(func() { config.SetRedisDB(nil) })

	// the lock script answers nil when the key is already held
	lockKey := "lock:handloan-recover:7"
	mock.CustomMatch(func(expected, actual []interface{}) error {
		if len(actual) < 4 || actual[3] != lockKey {
			return fmt.Errorf("unexpected lock call %v", actual)
		}
		return nil
	}).ExpectEvalSha("sha", []string{lockKey}, "token", 22, "30000").RedisNil()

	_, err := models.RecoverHandLoan(context.Background(), "7", &models.NewRecovery{Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, models.ErrRecoveryInProgress)
	assert.Zero(t, fake.total())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRecoveries_PicksHandLoansCollection(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans/getmainloanbyid/7", http.StatusOK,
		`{"_embedded":{"organizations":[{"id":5}],"handLoans":[{"id":21,"loanAmount":100}]}}`)

	recoveries, err := models.FetchRecoveries(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, recoveries, 1)
	assert.Equal(t, upstream.ID("21"), recoveries[0].ID)
}

func TestFetchHandLoan_MissingIsRecordNotFound(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans/404", http.StatusNotFound, `{"message":"hand loan not found"}`)

	_, err := models.FetchHandLoan(context.Background(), "404")
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
	assert.EqualError(t, err, "hand loan 404: record not found")
}

func TestFetchHandLoans_ClampsPageSize(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.handle(http.MethodGet, "/handloans", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "200", r.URL.Query().Get("size"))
		assert.Equal(t, "0", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := models.FetchHandLoans(context.Background(), models.ViewModeAll, "", -3, 5000)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.count(http.MethodGet, "/handloans"))
}
