package models

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
)

// HandLoanView is the state of one session's hand-loan screen.
type HandLoanView struct {
	Mode           ViewMode              `json:"mode"`
	OrganizationID upstream.ID           `json:"organizationId"`
	Page           int                   `json:"page"`
	Size           int                   `json:"size"`
	TotalPages     int                   `json:"totalPages"`
	TotalElements  int64                 `json:"totalElements"`
	Loans          []HandLoan            `json:"loans"`
	SelectedLoan   *HandLoan             `json:"selectedLoan"`
	Recoveries     []RecoveryTransaction `json:"recoveries"`
	Summary        HandLoanSummary       `json:"summary"`
	Error          string                `json:"error,omitempty"`
	HasPrev        bool                  `json:"hasPrev"`
	HasNext        bool                  `json:"hasNext"`
}

/*
caches:
	HandLoanView:$token   per session, lives as long as the session
*/

func handLoanViewKey(token string) string {
	return "HandLoanView:" + token
}

// NewHandLoanView is the state of a screen that has not loaded anything yet.
func NewHandLoanView(orgID upstream.ID) *HandLoanView {
	v := &HandLoanView{
		Mode:           ViewModeIssued,
		OrganizationID: orgID,
		Size:           defaultPageSize,
		Loans:          []HandLoan{},
		Recoveries:     []RecoveryTransaction{},
		Summary:        SummarizeHandLoans(nil),
	}
	v.syncFlags()
	return v
}

// LoadHandLoanView returns the stored view of a session, or a fresh one.
func LoadHandLoanView(ctx context.Context, s *Session) (*HandLoanView, error) {
	var v HandLoanView
	exists, err := config.GetRedisObject(ctx, handLoanViewKey(s.Token), &v)
	if err != nil {
		return nil, err
	}
	if !exists {
		return NewHandLoanView(s.OrganizationID), nil
	}
	if v.Size <= 0 {
		v.Size = defaultPageSize
	}
	v.syncFlags()
	return &v, nil
}

func SaveHandLoanView(ctx context.Context, s *Session, v *HandLoanView) error {
	return config.SetRedisObject(ctx, handLoanViewKey(s.Token), v, config.TokenLifespan())
}

func (v *HandLoanView) CanPrev() bool {
	return v.Page > 0
}

func (v *HandLoanView) CanNext() bool {
	return v.Page+1 < v.TotalPages
}

func (v *HandLoanView) syncFlags() {
	v.HasPrev = v.CanPrev()
	v.HasNext = v.CanNext()
}

// Refresh reloads what the current mode shows. Upstream failures end up in the
// Error banner with an empty list; only precondition errors are returned.
func (v *HandLoanView) Refresh(ctx context.Context) error {
	defer v.syncFlags()
	v.Error = ""

	if v.Mode == ViewModeRecovered {
		if v.SelectedLoan == nil {
			return ErrNoLoanSelected
		}
		recoveries, err := FetchRecoveries(ctx, v.SelectedLoan.ID)
		if err != nil {
			v.fail(ctx, "Failed to load recoveries", err)
			return nil
		}
		v.Recoveries = recoveries
		return nil
	}

	page, err := FetchHandLoans(ctx, v.Mode, v.OrganizationID, v.Page, v.Size)
	if err != nil {
		v.fail(ctx, "Failed to load hand loans", err)
		return nil
	}
	v.Loans = page.Items
	v.TotalPages = page.TotalPages
	v.TotalElements = page.TotalElements
	v.Summary = SummarizeHandLoans(page.Items)
	return nil
}

func (v *HandLoanView) fail(ctx context.Context, banner string, err error) {
	if errors.Is(err, context.Canceled) {
		banner = "Request cancelled"
	}
	config.LogError(config.GetLogger(), "HandLoanView", "Refresh", banner, v.Mode, err)
	v.Error = banner
	if v.Mode == ViewModeRecovered {
		v.Recoveries = []RecoveryTransaction{}
		return
	}
	v.Loans = []HandLoan{}
	v.TotalPages = 0
	v.TotalElements = 0
	v.Summary = SummarizeHandLoans(nil)
}

// SetMode switches the list. RECOVERED needs a selected loan; without one the
// state is left untouched and nothing is fetched.
func (v *HandLoanView) SetMode(ctx context.Context, mode ViewMode) error {
	if mode == ViewModeRecovered && v.SelectedLoan == nil {
		return ErrNoLoanSelected
	}
	v.Mode = mode
	v.Page = 0
	return v.Refresh(ctx)
}

// SetOrganization filters by organization; an empty id lists all of them.
func (v *HandLoanView) SetOrganization(ctx context.Context, orgID upstream.ID) error {
	v.OrganizationID = orgID
	v.Page = 0
	v.SelectedLoan = nil
	v.Recoveries = []RecoveryTransaction{}
	if v.Mode == ViewModeRecovered {
		v.Mode = ViewModeIssued
	}
	return v.Refresh(ctx)
}

func (v *HandLoanView) GoToPage(ctx context.Context, page int) error {
	if v.Mode == ViewModeRecovered {
		return NewValidationError("page", "recoveries are not paginated")
	}
	if page < 0 || (v.TotalPages > 0 && page >= v.TotalPages) || (v.TotalPages == 0 && page > 0) {
		return NewValidationError("page", fmt.Sprintf("must be between 0 and %d", max(v.TotalPages-1, 0)))
	}
	v.Page = page
	return v.Refresh(ctx)
}

// Select marks a loaded loan as the one recoveries refer to. An empty id clears it.
func (v *HandLoanView) Select(ctx context.Context, loanID upstream.ID) error {
	if loanID == "" {
		v.SelectedLoan = nil
		v.Recoveries = []RecoveryTransaction{}
		if v.Mode == ViewModeRecovered {
			v.Mode = ViewModeIssued
			v.Page = 0
			return v.Refresh(ctx)
		}
		return nil
	}

	for i := range v.Loans {
		if v.Loans[i].ID == loanID {
			selected := v.Loans[i]
			v.SelectedLoan = &selected
			v.Recoveries = []RecoveryTransaction{}
			if v.Mode == ViewModeRecovered {
				return v.Refresh(ctx)
			}
			return nil
		}
	}
	return NewValidationError("loanId", fmt.Sprintf("hand loan %s is not in the current list", loanID))
}
