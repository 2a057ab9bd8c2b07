package models

import (
	"fmt"
	"strings"
)

type HandLoanStatus string

const (
	HandLoanStatusIssued             HandLoanStatus = "ISSUED"
	HandLoanStatusPartiallyRecovered HandLoanStatus = "PARTIALLY_RECOVERED"
	HandLoanStatusClosed             HandLoanStatus = "CLOSED"
)

func (s HandLoanStatus) IsValid() bool {
	switch s {
	case HandLoanStatusIssued, HandLoanStatusPartiallyRecovered, HandLoanStatusClosed:
		return true
	}
	return false
}

type HandLoanType string

const (
	HandLoanTypeIssue   HandLoanType = "ISSUE"
	HandLoanTypeRecover HandLoanType = "RECOVER"
)

// ViewMode selects what the hand-loan screen lists.
type ViewMode string

const (
	ViewModeIssued    ViewMode = "ISSUED"
	ViewModeRecovered ViewMode = "RECOVERED"
	ViewModeClosed    ViewMode = "CLOSED"
	ViewModeAll       ViewMode = "ALL"
)

// ParseViewMode accepts any casing; an empty value means ISSUED.
func ParseViewMode(s string) (ViewMode, error) {
	switch ViewMode(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ViewModeIssued:
		return ViewModeIssued, nil
	case ViewModeRecovered:
		return ViewModeRecovered, nil
	case ViewModeClosed:
		return ViewModeClosed, nil
	case ViewModeAll:
		return ViewModeAll, nil
	}
	return "", NewValidationError("view", fmt.Sprintf("unknown view %q", s))
}

// statusFilter is the upstream status query for a list mode.
func (m ViewMode) statusFilter() string {
	switch m {
	case ViewModeIssued:
		return string(HandLoanStatusIssued) + "," + string(HandLoanStatusPartiallyRecovered)
	case ViewModeClosed:
		return string(HandLoanStatusClosed)
	default:
		return ""
	}
}

type ExpenseCategory string

const (
	ExpenseCategoryCashIn  ExpenseCategory = "CASH-IN"
	ExpenseCategoryCashOut ExpenseCategory = "CASH-OUT"
)

type JobContentKind string

const (
	JobContentHTML   JobContentKind = "html"
	JobContentSchema JobContentKind = "schema"
	JobContentPython JobContentKind = "python"
)

func ParseJobContentKind(s string) (JobContentKind, error) {
	switch k := JobContentKind(strings.ToLower(strings.TrimSpace(s))); k {
	case JobContentHTML, JobContentSchema, JobContentPython:
		return k, nil
	}
	return "", NewValidationError("kind", "must be one of html, schema, python")
}
