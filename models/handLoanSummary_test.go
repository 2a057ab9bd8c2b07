package models_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loan(issued, balance int64) models.HandLoan {
	return models.HandLoan{LoanAmount: decimal.NewFromInt(issued), BalanceAmount: decimal.NewFromInt(balance)}
}

func TestSummarizeHandLoans(t *testing.T) {
	t.Run("totals and rate", func(t *testing.T) {
		s := models.SummarizeHandLoans([]models.HandLoan{loan(500, 500), loan(300, 100), loan(200, 0)})
		assert.Equal(t, models.SummaryScopePage, s.Scope)
		assert.Equal(t, 3, s.TotalLoans)
		assert.Equal(t, "1000", s.TotalIssued.String())
		assert.Equal(t, "600", s.TotalBalance.String())
		assert.Equal(t, "400", s.TotalRecovered.String())
		assert.Equal(t, "40", s.RecoveryRate.String())
		assert.True(t, s.TotalRecovered.Equal(s.TotalIssued.Sub(s.TotalBalance)))
	})

	t.Run("rate rounds to two places", func(t *testing.T) {
		s := models.SummarizeHandLoans([]models.HandLoan{loan(300, 200)})
		assert.Equal(t, "33.33", s.RecoveryRate.String())
	})

	t.Run("zero issued gives zero rate", func(t *testing.T) {
		s := models.SummarizeHandLoans([]models.HandLoan{loan(0, 0)})
		assert.True(t, s.RecoveryRate.IsZero())
		assert.True(t, s.TotalRecovered.IsZero())
	})

	t.Run("empty", func(t *testing.T) {
		s := models.SummarizeHandLoans(nil)
		assert.Zero(t, s.TotalLoans)
		assert.True(t, s.RecoveryRate.IsZero())
	})
}

func TestFullHandLoanSummary_WalksEveryPage(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.handle(http.MethodGet, "/handloans", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		assert.Equal(t, "100", r.URL.Query().Get("size"))
		_, _ = fmt.Fprintf(w, `{"content":[{"id":"p%s","loanAmount":100,"balanceAmount":25}],"number":%s,"size":100,"totalPages":3,"totalElements":3}`, page, page)
	})

	s, err := models.FullHandLoanSummary(context.Background(), models.ViewModeAll, "")
	require.NoError(t, err)
	assert.Equal(t, models.SummaryScopeAll, s.Scope)
	assert.Equal(t, 3, s.TotalLoans)
	assert.Equal(t, "300", s.TotalIssued.String())
	assert.Equal(t, "225", s.TotalRecovered.String())
	assert.Equal(t, "75", s.RecoveryRate.String())
	assert.False(t, s.Truncated)
	assert.Equal(t, 3, fake.count(http.MethodGet, "/handloans"))
}

func TestFullHandLoanSummary_CapsPages(t *testing.T) {
	t.Setenv("SUMMARY_MAX_PAGES", "2")
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans", http.StatusOK,
		`{"content":[{"id":1,"loanAmount":10}],"number":0,"size":100,"totalPages":9,"totalElements":9}`)

	s, err := models.FullHandLoanSummary(context.Background(), models.ViewModeAll, "")
	require.NoError(t, err)
	assert.True(t, s.Truncated)
	assert.Equal(t, 2, fake.count(http.MethodGet, "/handloans"))
}

func TestFullHandLoanSummary_RejectsRecoveredMode(t *testing.T) {
	fake := newFakeUpstream(t)

	_, err := models.FullHandLoanSummary(context.Background(), models.ViewModeRecovered, "")
	assert.True(t, models.IsValidationError(err))
	assert.Zero(t, fake.total())
}

func TestFullHandLoanSummary_ServedFromCache(t *testing.T) {
	fake := newFakeUpstream(t)
	db, mock := redismock.NewClientMock()
	config.SetRedisDB(db)
	t.Cleanup(func() { config.SetRedisDB(nil) })

	cached, err := json.Marshal(models.HandLoanSummary{Scope: models.SummaryScopeAll, TotalLoans: 4})
	require.NoError(t, err)
	mock.ExpectGet("HandLoanSummary:5:ISSUED:ravi").SetVal(string(cached))

	ctx := utils.SetUsernameInContext(context.Background(), "ravi")
	s, err := models.FullHandLoanSummary(ctx, models.ViewModeIssued, "5")
	require.NoError(t, err)
	assert.Equal(t, 4, s.TotalLoans)
	assert.Zero(t, fake.total())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFullHandLoanSummary_CachedPerUser(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.handle(http.MethodGet, "/handloans/getHandLoansByOrgIdAndStatus", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer admin-token" {
			_, _ = w.Write([]byte(`{"content":[{"id":1,"loanAmount":100000}],"number":0,"size":100,"totalPages":1,"totalElements":1}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	db, mock := redismock.NewClientMock()
	config.SetRedisDB(db)
	t.Cleanup(func() { config.SetRedisDB(nil) })

	ttl := config.SummaryCacheTTL()
	for _, user := range []string{"admin", "clerk"} {
		key := "HandLoanSummary:5:ISSUED:" + user
		mock.ExpectGet(key).RedisNil()
		mock.Regexp().ExpectSet(key, `.*`, ttl).SetVal("OK")
		mock.ExpectSAdd("HandLoanSummaries:5", key).SetVal(1)
		mock.ExpectExpire("HandLoanSummaries:5", ttl).SetVal(true)
	}

	admin := models.WithSession(context.Background(), &models.Session{Username: "admin", UpstreamToken: "admin-token"})
	s, err := models.FullHandLoanSummary(admin, models.ViewModeIssued, "5")
	require.NoError(t, err)
	assert.Equal(t, "100000", s.TotalIssued.String())

	clerk := models.WithSession(context.Background(), &models.Session{Username: "clerk", UpstreamToken: "clerk-token"})
	s, err = models.FullHandLoanSummary(clerk, models.ViewModeIssued, "5")
	require.NoError(t, err)
	assert.True(t, s.TotalIssued.IsZero(), "clerk must not see the admin's totals")
	assert.Equal(t, 2, fake.count(http.MethodGet, "/handloans/getHandLoansByOrgIdAndStatus"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateHandLoanSummaries(t *testing.T) {
	db, mock := redismock.NewClientMock()
	config.SetRedisDB(db)
	t.Cleanup(func() { config.SetRedisDB(nil) })

	mock.ExpectSMembers("HandLoanSummaries:all").SetVal([]string{"HandLoanSummary:all:ALL:admin"})
	mock.ExpectSMembers("HandLoanSummaries:5").SetVal([]string{"HandLoanSummary:5:ISSUED:admin", "HandLoanSummary:5:ISSUED:clerk"})
	mock.ExpectDel(
		"HandLoanSummary:all:ALL:admin", "HandLoanSummaries:all",
		"HandLoanSummary:5:ISSUED:admin", "HandLoanSummary:5:ISSUED:clerk", "HandLoanSummaries:5",
	).SetVal(5)

	models.InvalidateHandLoanSummaries(context.Background(), "5")
	assert.NoError(t, mock.ExpectationsWereMet())
}
