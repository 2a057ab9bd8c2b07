package models

import (
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"github.com/shopspring/decimal"
)

var (
	OrganizationResource = ResourceSpec{Name: "organizations", Path: "/organizations", EmbeddedKey: "organizations", Methods: readWrite}
	EmployeeResource     = ResourceSpec{Name: "employees", Path: "/employees", EmbeddedKey: "employees", Methods: readWriteDelete}
	ExpenseResource      = ResourceSpec{Name: "expenses", Path: "/expenses", EmbeddedKey: "expenses", Methods: readWritePatch}
	ExpenseTypeResource  = ResourceSpec{Name: "expenseTypeMasters", Path: "/expenseTypeMasters", EmbeddedKey: "expenseTypeMasters", Methods: readWritePatch}
	DayClosingResource   = ResourceSpec{Name: "dayClosings", Path: "/pettyCashDayClosings", CreatePath: "/petty-cash/day-closing", EmbeddedKey: "pettyCashDayClosings", Methods: readWrite}
	RoleResource         = ResourceSpec{Name: "roles", Path: "/roles", EmbeddedKey: "roles", Methods: readWriteDelete}
	PermissionResource   = ResourceSpec{Name: "permissions", Path: "/permissions", EmbeddedKey: "permissions", Methods: readWriteDelete}
	UserResource         = ResourceSpec{Name: "users", Path: "/users", EmbeddedKey: "users", Methods: readWriteDelete}
	HolidayResource      = ResourceSpec{Name: "holidays", Path: "/holidays", EmbeddedKey: "holidays", Methods: readWriteDelete}
)

type Employee struct {
	ID             upstream.ID     `json:"id"`
	EmployeeCode   string          `json:"employeeCode,omitempty" validate:"max=50"`
	FirstName      string          `json:"firstName" validate:"required,max=100"`
	LastName       string          `json:"lastName" validate:"required,max=100"`
	Email          string          `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNo        string          `json:"phoneNo,omitempty" validate:"omitempty,phone"`
	Designation    string          `json:"designation,omitempty"`
	JoiningDate    string          `json:"joiningDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	OrganizationID upstream.ID     `json:"organizationId,omitempty"`
	Active         *bool           `json:"active,omitempty"`
	Links          *upstream.Links `json:"_links,omitempty"`
}

func (e *Employee) Normalize() {
	e.ID = upstream.FirstID(e.ID, e.Links.SelfID())
	e.FirstName = strings.TrimSpace(e.FirstName)
	e.LastName = strings.TrimSpace(e.LastName)
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	if e.Active == nil {
		active := true
		e.Active = &active
	}
	e.Links = nil
}

type Expense struct {
	ID                  upstream.ID     `json:"id"`
	ExpenseTypeMasterID upstream.ID     `json:"expenseTypeMasterId" validate:"required"`
	ExpenseType         string          `json:"expenseType,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	OrganizationID      upstream.ID     `json:"organizationId" validate:"required"`
	ExpenseDate         string          `json:"expenseDate" validate:"required,datetime=2006-01-02"`
	PaymentMode         string          `json:"paymentMode,omitempty"`
	Narration           string          `json:"narration,omitempty" validate:"max=1000"`
	Links               *upstream.Links `json:"_links,omitempty"`
}

func (e *Expense) Normalize() {
	e.ID = upstream.FirstID(e.ID, e.Links.SelfID())
	e.Links = nil
}

func (e *Expense) Check(ve *ValidationError) {
	if !e.Amount.IsPositive() {
		ve.add("amount", "must be greater than 0")
	}
}

type ExpenseTypeMaster struct {
	ID      upstream.ID     `json:"id"`
	Name    string          `json:"name" validate:"required,max=100"`
	Type    ExpenseCategory `json:"type" validate:"required,oneof=CASH-IN CASH-OUT"`
	SubType string          `json:"subType" validate:"required,max=100"`
	Active  *bool           `json:"active,omitempty"`
	Links   *upstream.Links `json:"_links,omitempty"`
}

func (e *ExpenseTypeMaster) Normalize() {
	e.ID = upstream.FirstID(e.ID, e.Links.SelfID())
	e.Type = ExpenseCategory(strings.ToUpper(strings.TrimSpace(string(e.Type))))
	e.Links = nil
}

type Denomination struct {
	Value decimal.Decimal `json:"value"`
	Count int             `json:"count" validate:"min=0"`
}

type PettyCashDayClosing struct {
	ID             upstream.ID     `json:"id"`
	OrganizationID upstream.ID     `json:"organizationId" validate:"required"`
	ClosingDate    string          `json:"closingDate" validate:"required,datetime=2006-01-02"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	CashIn         decimal.Decimal `json:"cashIn"`
	CashOut        decimal.Decimal `json:"cashOut"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	Denominations  []Denomination  `json:"denominations,omitempty" validate:"dive"`
	Remarks        string          `json:"remarks,omitempty"`
	Links          *upstream.Links `json:"_links,omitempty"`
}

func (d *PettyCashDayClosing) Normalize() {
	d.ID = upstream.FirstID(d.ID, d.Links.SelfID())
	d.Links = nil
}

// CountedTotal is the cash counted across denominations.
func (d *PettyCashDayClosing) CountedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, den := range d.Denominations {
		total = total.Add(den.Value.Mul(decimal.NewFromInt(int64(den.Count))))
	}
	return total
}

func (d *PettyCashDayClosing) Check(ve *ValidationError) {
	if d.ClosingBalance.IsNegative() {
		ve.add("closingBalance", "must not be negative")
	}
	for i, den := range d.Denominations {
		if !den.Value.IsPositive() {
			ve.add(fmt.Sprintf("denominations[%d].value", i), "must be greater than 0")
		}
	}
	if len(d.Denominations) > 0 {
		if counted := d.CountedTotal(); !counted.Equal(d.ClosingBalance) {
			ve.add("closingBalance", fmt.Sprintf("does not match the counted cash of %s", counted.StringFixed(2)))
		}
	}
}

type Role struct {
	ID          upstream.ID     `json:"id"`
	Name        string          `json:"name" validate:"required,max=100"`
	Description string          `json:"description,omitempty"`
	Permissions RoleNames       `json:"permissions,omitempty"`
	Links       *upstream.Links `json:"_links,omitempty"`
}

func (r *Role) Normalize() {
	r.ID = upstream.FirstID(r.ID, r.Links.SelfID())
	r.Name = strings.TrimSpace(r.Name)
	r.Links = nil
}

type Permission struct {
	ID          upstream.ID     `json:"id"`
	Name        string          `json:"name" validate:"required,max=100"`
	Description string          `json:"description,omitempty"`
	Links       *upstream.Links `json:"_links,omitempty"`
}

func (p *Permission) Normalize() {
	p.ID = upstream.FirstID(p.ID, p.Links.SelfID())
	p.Name = strings.TrimSpace(p.Name)
	p.Links = nil
}

type User struct {
	ID             upstream.ID     `json:"id"`
	Username       string          `json:"username" validate:"required,min=3,max=100"`
	Email          string          `json:"email" validate:"required,email"`
	FullName       string          `json:"fullName,omitempty"`
	Password       string          `json:"password,omitempty" validate:"omitempty,min=6"`
	OrganizationID upstream.ID     `json:"organizationId,omitempty"`
	Roles          RoleNames       `json:"roles" validate:"required,min=1"`
	Active         *bool           `json:"active,omitempty"`
	Links          *upstream.Links `json:"_links,omitempty"`
}

// Normalize also drops any password the API echoes back.
func (u *User) Normalize() {
	u.ID = upstream.FirstID(u.ID, u.Links.SelfID())
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Password = ""
	u.Links = nil
}

type Holiday struct {
	ID             upstream.ID     `json:"id"`
	Name           string          `json:"name" validate:"required,max=100"`
	Date           string          `json:"date" validate:"required,datetime=2006-01-02"`
	OrganizationID upstream.ID     `json:"organizationId,omitempty"`
	Optional       bool            `json:"optional"`
	Links          *upstream.Links `json:"_links,omitempty"`
}

func (h *Holiday) Normalize() {
	h.ID = upstream.FirstID(h.ID, h.Links.SelfID())
	h.Name = strings.TrimSpace(h.Name)
	h.Links = nil
}
