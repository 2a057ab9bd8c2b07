package models_test

import (
	"context"
	"net/http"
	"testing"

	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandLoanView_RecoveredWithoutSelectionFetchesNothing(t *testing.T) {
	fake := newFakeUpstream(t)
	v := models.NewHandLoanView("5")

	err := v.SetMode(context.Background(), models.ViewModeRecovered)

	assert.ErrorIs(t, err, models.ErrNoLoanSelected)
	assert.Equal(t, models.ViewModeIssued, v.Mode)
	assert.Zero(t, fake.total())
}

func TestHandLoanView_PagingFlags(t *testing.T) {
	tests := []struct {
		page, totalPages int
		prev, next       bool
	}{
		{page: 0, totalPages: 0, prev: false, next: false},
		{page: 0, totalPages: 1, prev: false, next: false},
		{page: 0, totalPages: 3, prev: false, next: true},
		{page: 1, totalPages: 3, prev: true, next: true},
		{page: 2, totalPages: 3, prev: true, next: false},
	}
	for _, tt := range tests {
		v := &models.HandLoanView{Page: tt.page, TotalPages: tt.totalPages}
		assert.Equal(t, tt.prev, v.CanPrev(), "page %d of %d", tt.page, tt.totalPages)
		assert.Equal(t, tt.next, v.CanNext(), "page %d of %d", tt.page, tt.totalPages)
	}
}

func TestHandLoanView_RefreshLoadsPageAndSummary(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans/getHandLoansByOrgIdAndStatus", http.StatusOK, halHandLoans)
	v := models.NewHandLoanView("5")

	require.NoError(t, v.Refresh(context.Background()))
	assert.Len(t, v.Loans, 2)
	assert.Equal(t, 2, v.TotalPages)
	assert.False(t, v.HasPrev)
	assert.True(t, v.HasNext)
	assert.Equal(t, models.SummaryScopePage, v.Summary.Scope)
	assert.Equal(t, "800", v.Summary.TotalIssued.String())
	assert.Empty(t, v.Error)
}

func TestHandLoanView_RefreshFailureShowsBanner(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans/getHandLoansByOrgIdAndStatus", http.StatusInternalServerError, `{"message":"boom"}`)
	v := models.NewHandLoanView("5")
	v.Loans = []models.HandLoan{loan(1, 1)}

	require.NoError(t, v.Refresh(context.Background()))
	assert.Equal(t, "Failed to load hand loans", v.Error)
	assert.Empty(t, v.Loans)
	assert.Zero(t, v.TotalPages)
}

func TestHandLoanView_SelectThenRecovered(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans/getHandLoansByOrgIdAndStatus", http.StatusOK, halHandLoans)
	fake.respond(http.MethodGet, "/handloans/getmainloanbyid/12", http.StatusOK, `[{"id":30,"loanAmount":200}]`)
	ctx := context.Background()
	v := models.NewHandLoanView("5")
	require.NoError(t, v.Refresh(ctx))

	err := v.Select(ctx, "404")
	assert.True(t, models.IsValidationError(err))
	assert.Nil(t, v.SelectedLoan)

	require.NoError(t, v.Select(ctx, "12"))
	require.NotNil(t, v.SelectedLoan)
	assert.Equal(t, "Meena", v.SelectedLoan.PartyName)

	require.NoError(t, v.SetMode(ctx, models.ViewModeRecovered))
	assert.Equal(t, models.ViewModeRecovered, v.Mode)
	require.Len(t, v.Recoveries, 1)
	assert.Equal(t, upstream.ID("12"), v.Recoveries[0].MainHandLoanID)

	require.NoError(t, v.Select(ctx, ""))
	assert.Nil(t, v.SelectedLoan)
	assert.Equal(t, models.ViewModeIssued, v.Mode)
}

func TestHandLoanView_GoToPageBounds(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.handle(http.MethodGet, "/handloans/getHandLoansByOrgIdAndStatus", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[{"id":1}],"number":` + r.URL.Query().Get("page") + `,"size":10,"totalPages":2,"totalElements":11}`))
	})
	ctx := context.Background()
	v := models.NewHandLoanView("5")
	require.NoError(t, v.Refresh(ctx))

	require.NoError(t, v.GoToPage(ctx, 1))
	assert.Equal(t, 1, v.Page)
	assert.True(t, v.HasPrev)
	assert.False(t, v.HasNext)

	assert.True(t, models.IsValidationError(v.GoToPage(ctx, 2)))
	assert.True(t, models.IsValidationError(v.GoToPage(ctx, -1)))
	assert.Equal(t, 1, v.Page)
}

func TestHandLoanView_SetOrganizationResetsSelection(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/handloans/getHandLoansByOrgIdAndStatus", http.StatusOK, halHandLoans)
	ctx := context.Background()
	v := models.NewHandLoanView("5")
	require.NoError(t, v.Refresh(ctx))
	require.NoError(t, v.Select(ctx, "11"))
	v.Page = 1

	require.NoError(t, v.SetOrganization(ctx, "8"))
	assert.Equal(t, upstream.ID("8"), v.OrganizationID)
	assert.Zero(t, v.Page)
	assert.Nil(t, v.SelectedLoan)
}
