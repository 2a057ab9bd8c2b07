package models

import (
	"context"
	"sync"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	SummaryScopePage = "page"
	SummaryScopeAll  = "all"

	summaryPageSize    = 100
	summaryConcurrency = 4
)

type HandLoanSummary struct {
	Scope          string          `json:"scope"`
	TotalLoans     int             `json:"totalLoans"`
	TotalIssued    decimal.Decimal `json:"totalIssued"`
	TotalBalance   decimal.Decimal `json:"totalBalance"`
	TotalRecovered decimal.Decimal `json:"totalRecovered"`
	RecoveryRate   decimal.Decimal `json:"recoveryRate"`
	Truncated      bool            `json:"truncated,omitempty"`
}

// SummarizeHandLoans totals the given loans. The rate is a percentage rounded
// to two places and is zero when nothing was issued.
func SummarizeHandLoans(loans []HandLoan) HandLoanSummary {
	summary := HandLoanSummary{
		Scope:        SummaryScopePage,
		TotalLoans:   len(loans),
		TotalIssued:  decimal.Zero,
		TotalBalance: decimal.Zero,
	}
	for _, l := range loans {
		summary.TotalIssued = summary.TotalIssued.Add(l.LoanAmount)
		summary.TotalBalance = summary.TotalBalance.Add(l.BalanceAmount)
	}
	summary.TotalRecovered = summary.TotalIssued.Sub(summary.TotalBalance)
	summary.RecoveryRate = decimal.Zero
	if !summary.TotalIssued.IsZero() {
		summary.RecoveryRate = summary.TotalRecovered.Div(summary.TotalIssued).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return summary
}

/*
caches:
	HandLoanSummary:$orgId:$mode:$username   whole-set summary, as that user sees it
	HandLoanSummaries:$orgId                 set of summary keys cached for the org
*/

func handLoanSummaryOrg(orgID upstream.ID) string {
	if orgID == "" {
		return "all"
	}
	return orgID.String()
}

func handLoanSummaryKey(orgID upstream.ID, mode ViewMode, username string) string {
	return "HandLoanSummary:" + handLoanSummaryOrg(orgID) + ":" + string(mode) + ":" + username
}

func handLoanSummaryIndexKey(orgID upstream.ID) string {
	return "HandLoanSummaries:" + handLoanSummaryOrg(orgID)
}

// FullHandLoanSummary summarises every page of a list mode, not just the one on screen.
// Results are cached per user; without a username nothing is cached.
func FullHandLoanSummary(ctx context.Context, mode ViewMode, orgID upstream.ID) (*HandLoanSummary, error) {
	if mode == ViewModeRecovered {
		return nil, NewValidationError("view", "summaries cover ISSUED, CLOSED or ALL")
	}
	username, _ := utils.GetUsernameFromContext(ctx)
	key := ""
	if username != "" {
		key = handLoanSummaryKey(orgID, mode, username)
	}

	var cached HandLoanSummary
	if key != "" {
		if exists, err := config.GetRedisObject(ctx, key, &cached); err == nil && exists {
			return &cached, nil
		}
	}

	loans, truncated, err := FetchAllHandLoans(ctx, mode, orgID)
	if err != nil {
		return nil, err
	}
	summary := SummarizeHandLoans(loans)
	summary.Scope = SummaryScopeAll
	summary.Truncated = truncated

	if key != "" {
		cacheHandLoanSummary(ctx, orgID, key, summary)
	}
	return &summary, nil
}

func cacheHandLoanSummary(ctx context.Context, orgID upstream.ID, key string, summary HandLoanSummary) {
	ttl := config.SummaryCacheTTL()
	if err := config.SetRedisObject(ctx, key, summary, ttl); err != nil {
		config.LogError(config.GetLogger(), "HandLoan", "FullHandLoanSummary", "Caching summary", key, err)
		return
	}
	if err := config.AddRedisSet(ctx, handLoanSummaryIndexKey(orgID), key, ttl); err != nil {
		config.LogError(config.GetLogger(), "HandLoan", "FullHandLoanSummary", "Indexing summary", key, err)
	}
}

// FetchAllHandLoans walks the pages of a list mode concurrently, up to
// SUMMARY_MAX_PAGES. truncated reports whether pages were left out.
func FetchAllHandLoans(ctx context.Context, mode ViewMode, orgID upstream.ID) ([]HandLoan, bool, error) {
	first, err := FetchHandLoans(ctx, mode, orgID, 0, summaryPageSize)
	if err != nil {
		return nil, false, err
	}
	pages := first.TotalPages
	truncated := false
	if maxPages := config.SummaryMaxPages(); maxPages > 0 && pages > maxPages {
		pages = maxPages
		truncated = true
	}
	if pages <= 1 {
		return first.Items, truncated, nil
	}

	rest := make([][]HandLoan, pages)
	rest[0] = first.Items
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for p := 1; p < pages; p++ {
		p := p
		g.Go(func() error {
			page, err := FetchHandLoans(gctx, mode, orgID, p, summaryPageSize)
			if err != nil {
				return err
			}
			mu.Lock()
			rest[p] = page.Items
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	var all []HandLoan
	for _, items := range rest {
		all = append(all, items...)
	}
	return all, truncated, nil
}

// InvalidateHandLoanSummaries drops every user's cached summaries touched by a
// mutation in orgID, including the unfiltered ones.
func InvalidateHandLoanSummaries(ctx context.Context, orgID upstream.ID) {
	ctx = context.WithoutCancel(ctx)
	orgs := []upstream.ID{""}
	if orgID != "" {
		orgs = append(orgs, orgID)
	}
	var keys []string
	for _, org := range orgs {
		index := handLoanSummaryIndexKey(org)
		members, err := config.GetRedisSetMembers(ctx, index)
		if err != nil {
			config.LogError(config.GetLogger(), "HandLoan", "InvalidateHandLoanSummaries", "Reading index", index, err)
		}
		keys = append(keys, members...)
		keys = append(keys, index)
	}
	if err := config.RemoveRedisKey(ctx, keys...); err != nil {
		config.LogError(config.GetLogger(), "HandLoan", "InvalidateHandLoanSummaries", "Removing cache", keys, err)
	}
}
