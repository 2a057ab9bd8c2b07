package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
	"github.com/shopspring/decimal"
)

const (
	dateLayout          = "2006-01-02"
	recoveryLockTTL     = 30 * time.Second
	handLoansEmbeddedAs = "handLoans"
)

func init() {
	// amounts go to the SPA and upstream as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

type HandLoan struct {
	ID             upstream.ID     `json:"id"`
	HandLoanNumber string          `json:"handLoanNumber"`
	PartyName      string          `json:"partyName"`
	LoanAmount     decimal.Decimal `json:"loanAmount"`
	BalanceAmount  decimal.Decimal `json:"balanceAmount"`
	Status         HandLoanStatus  `json:"status"`
	Organization   Organization    `json:"organization"`
	CreatedDate    string          `json:"createdDate"`
	PhoneNo        string          `json:"phoneNo,omitempty"`
	Narration      string          `json:"narration,omitempty"`
	HasImage       bool            `json:"hasImage"`
	HandLoanType   HandLoanType    `json:"handLoanType,omitempty"`
	MainHandLoanID upstream.ID     `json:"mainHandLoanId,omitempty"`
}

// RecoveredAmount is what has been paid back so far.
func (l HandLoan) RecoveredAmount() decimal.Decimal {
	return l.LoanAmount.Sub(l.BalanceAmount)
}

type RecoveryTransaction struct {
	ID             upstream.ID     `json:"id"`
	MainHandLoanID upstream.ID     `json:"mainHandLoanId"`
	Amount         decimal.Decimal `json:"amount"`
	CreatedDate    string          `json:"createdDate"`
	Narration      string          `json:"narration,omitempty"`
}

// handLoanRecord is a hand loan as the API sends it; any field may be missing.
type handLoanRecord struct {
	ID             upstream.ID      `json:"id"`
	HandLoanNumber string           `json:"handLoanNumber"`
	PartyName      string           `json:"partyName"`
	LoanAmount     *decimal.Decimal `json:"loanAmount"`
	BalanceAmount  *decimal.Decimal `json:"balanceAmount"`
	Status         HandLoanStatus   `json:"status"`
	Organization   *Organization    `json:"organization"`
	OrganizationID upstream.ID      `json:"organizationId"`
	CreatedDate    string           `json:"createdDate"`
	PhoneNo        string           `json:"phoneNo"`
	Narration      string           `json:"narration"`
	HasImage       bool             `json:"hasImage"`
	HandLoanType   HandLoanType     `json:"handLoanType"`
	MainHandLoanID upstream.ID      `json:"mainHandLoanId"`
	MainHandLoan   *struct {
		ID upstream.ID `json:"id"`
	} `json:"mainHandLoan"`
	Links *upstream.Links `json:"_links"`
}

// normalize applies the display defaults: loanAmount 0, balanceAmount = loanAmount,
// status ISSUED, organization id from its self link.
func (r handLoanRecord) normalize() HandLoan {
	loan := HandLoan{
		ID:             upstream.FirstID(r.ID, r.Links.SelfID()),
		HandLoanNumber: r.HandLoanNumber,
		PartyName:      strings.TrimSpace(r.PartyName),
		LoanAmount:     utils.DereferencePtr(r.LoanAmount, decimal.Zero),
		Status:         r.Status,
		CreatedDate:    r.CreatedDate,
		PhoneNo:        r.PhoneNo,
		Narration:      r.Narration,
		HasImage:       r.HasImage,
		HandLoanType:   r.HandLoanType,
		MainHandLoanID: r.MainHandLoanID,
	}
	loan.BalanceAmount = utils.DereferencePtr(r.BalanceAmount, loan.LoanAmount)
	if !loan.Status.IsValid() {
		loan.Status = HandLoanStatusIssued
	}
	if r.Organization != nil {
		loan.Organization = *r.Organization
		loan.Organization.Normalize()
	}
	loan.Organization.ID = upstream.FirstID(loan.Organization.ID, r.OrganizationID)
	if loan.MainHandLoanID == "" && r.MainHandLoan != nil {
		loan.MainHandLoanID = r.MainHandLoan.ID
	}
	return loan
}

func (r handLoanRecord) recovery(mainLoanID upstream.ID) RecoveryTransaction {
	loan := r.normalize()
	return RecoveryTransaction{
		ID:             loan.ID,
		MainHandLoanID: upstream.FirstID(loan.MainHandLoanID, mainLoanID),
		Amount:         loan.LoanAmount,
		CreatedDate:    loan.CreatedDate,
		Narration:      loan.Narration,
	}
}

// FetchHandLoans loads one page of hand loans for a list mode.
// RECOVERED is not a list mode; use FetchRecoveries.
func FetchHandLoans(ctx context.Context, mode ViewMode, orgID upstream.ID, page int, size int) (*upstream.Page[HandLoan], error) {
	if mode == ViewModeRecovered {
		return nil, NewValidationError("view", "recoveries are listed per hand loan")
	}
	query := ListQuery{Page: page, Size: size}.values()
	path := "/handloans"
	status := mode.statusFilter()
	if orgID != "" || status != "" {
		path = "/handloans/getHandLoansByOrgIdAndStatus"
		if orgID != "" {
			query.Set("orgId", orgID.String())
		}
		if status != "" {
			query.Set("status", status)
		}
	}

	body, err := upstream.Default().Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	records, err := upstream.DecodePage[handLoanRecord](body, handLoansEmbeddedAs)
	if err != nil {
		return nil, err
	}

	loans := make([]HandLoan, len(records.Items))
	for i, r := range records.Items {
		loans[i] = r.normalize()
	}
	return &upstream.Page[HandLoan]{
		Items:         loans,
		Number:        records.Number,
		Size:          records.Size,
		TotalPages:    records.TotalPages,
		TotalElements: records.TotalElements,
	}, nil
}

func FetchHandLoan(ctx context.Context, id upstream.ID) (*HandLoan, error) {
	if id == "" {
		return nil, NewValidationError("id", "is required")
	}
	body, err := upstream.Default().Get(ctx, "/handloans/"+url.PathEscape(id.String()), nil)
	if err != nil {
		return nil, notFound(err, "hand loan", id)
	}
	record, err := upstream.DecodeOne[handLoanRecord](body)
	if err != nil {
		return nil, err
	}
	loan := record.normalize()
	if loan.ID == "" {
		loan.ID = id
	}
	return &loan, nil
}

// FetchRecoveries lists the recovery transactions recorded against a hand loan.
func FetchRecoveries(ctx context.Context, mainLoanID upstream.ID) ([]RecoveryTransaction, error) {
	if mainLoanID == "" {
		return nil, ErrNoLoanSelected
	}
	body, err := upstream.Default().Get(ctx, "/handloans/getmainloanbyid/"+url.PathEscape(mainLoanID.String()), nil)
	if err != nil {
		return nil, notFound(err, "hand loan", mainLoanID)
	}
	records, err := upstream.DecodePage[handLoanRecord](body, handLoansEmbeddedAs)
	if err != nil {
		return nil, err
	}
	recoveries := make([]RecoveryTransaction, 0, len(records.Items))
	for _, r := range records.Items {
		recoveries = append(recoveries, r.recovery(mainLoanID))
	}
	return recoveries, nil
}

// FetchCurrentBalance returns the petty-cash balance of an organization on a date.
func FetchCurrentBalance(ctx context.Context, orgID upstream.ID, date string) (decimal.Decimal, error) {
	if orgID == "" {
		return decimal.Zero, NewValidationError("organizationId", "is required")
	}
	if date == "" {
		date = time.Now().Format(dateLayout)
	}
	query := url.Values{}
	query.Set("organizationId", orgID.String())
	query.Set("date", date)
	body, err := upstream.Default().Get(ctx, "/petty-cash/day-closing/balance", query)
	if err != nil {
		return decimal.Zero, err
	}
	return decodeBalance(body)
}

func decodeBalance(body []byte) (decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return decimal.Zero, fmt.Errorf("%w: empty balance", upstream.ErrUnexpectedShape)
	}
	if trimmed[0] == '{' {
		var wrapped struct {
			Balance        *decimal.Decimal `json:"balance"`
			ClosingBalance *decimal.Decimal `json:"closingBalance"`
			CurrentBalance *decimal.Decimal `json:"currentBalance"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return decimal.Zero, fmt.Errorf("%w: balance object: %v", upstream.ErrUnexpectedShape, err)
		}
		for _, v := range []*decimal.Decimal{wrapped.Balance, wrapped.ClosingBalance, wrapped.CurrentBalance} {
			if v != nil {
				return *v, nil
			}
		}
		return decimal.Zero, fmt.Errorf("%w: balance object has no balance field", upstream.ErrUnexpectedShape)
	}
	value, err := utils.ParseDecimal(strings.Trim(string(trimmed), `"`))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance %q", upstream.ErrUnexpectedShape, string(trimmed))
	}
	return value, nil
}

type NewHandLoan struct {
	PartyName      string          `json:"partyName" validate:"required,max=200"`
	OrganizationID upstream.ID     `json:"organizationId" validate:"required"`
	LoanAmount     decimal.Decimal `json:"loanAmount"`
	PhoneNo        string          `json:"phoneNo" validate:"omitempty,phone"`
	Narration      string          `json:"narration" validate:"max=1000"`
	Date           string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type NewRecovery struct {
	Amount    decimal.Decimal `json:"amount"`
	Narration string          `json:"narration" validate:"max=1000"`
	Date      string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// Attachment is an uploaded file sent along with a hand loan.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

type organizationRef struct {
	ID upstream.ID `json:"id"`
}

// handLoanPayload is the JSON part of the multipart create request.
type handLoanPayload struct {
	PartyName      string          `json:"partyName"`
	LoanAmount     decimal.Decimal `json:"loanAmount"`
	BalanceAmount  decimal.Decimal `json:"balanceAmount"`
	Status         HandLoanStatus  `json:"status,omitempty"`
	HandLoanType   HandLoanType    `json:"handLoanType"`
	MainHandLoanID upstream.ID     `json:"mainHandLoanId,omitempty"`
	Organization   organizationRef `json:"organization"`
	PhoneNo        string          `json:"phoneNo,omitempty"`
	Narration      string          `json:"narration,omitempty"`
	HasImage       bool            `json:"hasImage"`
	CreatedDate    string          `json:"createdDate,omitempty"`
}

func (input *NewHandLoan) validate() error {
	input.PartyName = strings.TrimSpace(input.PartyName)
	input.PhoneNo = strings.TrimSpace(input.PhoneNo)
	ve := &ValidationError{}
	if err := validateInput(input); err != nil {
		fields, ok := err.(*ValidationError)
		if !ok {
			return err
		}
		ve = fields
	}
	if !input.LoanAmount.IsPositive() {
		ve.add("loanAmount", "must be greater than 0")
	}
	if err := ve.orNil(); err != nil {
		return err
	}
	input.PhoneNo = normalizePhone(input.PhoneNo)
	return nil
}

// normalizePhone returns the E.164 form of a number that already passed the
// "phone" check, and the input unchanged otherwise.
func normalizePhone(phone string) string {
	if phone == "" {
		return ""
	}
	formatted, err := utils.FormatPhoneNumber(phone, config.DefaultPhoneRegion())
	if err != nil {
		return phone
	}
	return formatted
}

// CreateHandLoan issues a new hand loan. Nothing is sent upstream unless the
// input is valid and the organization's current balance covers the amount.
func CreateHandLoan(ctx context.Context, input *NewHandLoan, attachment *Attachment) (*HandLoan, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.Date == "" {
		input.Date = time.Now().Format(dateLayout)
	}

	balance, err := FetchCurrentBalance(ctx, input.OrganizationID, input.Date)
	if err != nil {
		return nil, err
	}
	if input.LoanAmount.GreaterThan(balance) {
		return nil, NewValidationError("loanAmount", fmt.Sprintf("exceeds the available balance of %s", balance.StringFixed(2)))
	}

	filePart, err := attachmentPart(attachment)
	if err != nil {
		return nil, err
	}

	payload := handLoanPayload{
		PartyName:     input.PartyName,
		LoanAmount:    input.LoanAmount,
		BalanceAmount: input.LoanAmount,
		Status:        HandLoanStatusIssued,
		HandLoanType:  HandLoanTypeIssue,
		Organization:  organizationRef{ID: input.OrganizationID},
		PhoneNo:       input.PhoneNo,
		Narration:     strings.TrimSpace(input.Narration),
		HasImage:      filePart != nil,
		CreatedDate:   input.Date,
	}
	loan, err := postHandLoan(ctx, payload, filePart)
	if err != nil {
		return nil, err
	}

	InvalidateHandLoanSummaries(ctx, input.OrganizationID)
	RecordAudit(ctx, AuditActionCreate, "handloans", loan.ID.String(), payload)
	return loan, nil
}

func (input *NewRecovery) validate() error {
	ve := &ValidationError{}
	if err := validateInput(input); err != nil {
		fields, ok := err.(*ValidationError)
		if !ok {
			return err
		}
		ve = fields
	}
	if !input.Amount.IsPositive() {
		ve.add("amount", "must be greater than 0")
	}
	return ve.orNil()
}

// RecoverHandLoan records a repayment against a hand loan. Submissions for the
// same loan are serialised so two recoveries cannot both pass the balance check.
func RecoverHandLoan(ctx context.Context, mainLoanID upstream.ID, input *NewRecovery) (*HandLoan, error) {
	if mainLoanID == "" {
		return nil, ErrNoLoanSelected
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	release, err := utils.ObtainLock(ctx, "handloan-recover", mainLoanID.String(), recoveryLockTTL, "HandLoan", "RecoverHandLoan")
	if errors.Is(err, utils.ErrLockNotObtained) {
		return nil, ErrRecoveryInProgress
	} else if err != nil {
		return nil, err
	}
	defer release()

	parent, err := FetchHandLoan(ctx, mainLoanID)
	if err != nil {
		return nil, err
	}
	if parent.Status == HandLoanStatusClosed || !parent.BalanceAmount.IsPositive() {
		return nil, NewValidationError("amount", "hand loan is already closed")
	}
	if input.Amount.GreaterThan(parent.BalanceAmount) {
		return nil, NewValidationError("amount", fmt.Sprintf("exceeds the outstanding balance of %s", parent.BalanceAmount.StringFixed(2)))
	}

	date := input.Date
	if date == "" {
		date = time.Now().Format(dateLayout)
	}
	payload := handLoanPayload{
		PartyName:      parent.PartyName,
		LoanAmount:     input.Amount,
		BalanceAmount:  decimal.Zero,
		HandLoanType:   HandLoanTypeRecover,
		MainHandLoanID: mainLoanID,
		Organization:   organizationRef{ID: parent.Organization.ID},
		PhoneNo:        parent.PhoneNo,
		Narration:      strings.TrimSpace(input.Narration),
		CreatedDate:    date,
	}
	recovery, err := postHandLoan(ctx, payload, nil)
	if err != nil {
		return nil, err
	}

	InvalidateHandLoanSummaries(ctx, parent.Organization.ID)
	RecordAudit(ctx, AuditActionRecover, "handloans", mainLoanID.String(), payload)
	return recovery, nil
}

func attachmentPart(attachment *Attachment) (*upstream.Part, error) {
	if attachment == nil || len(attachment.Data) == 0 {
		return nil, nil
	}
	if int64(len(attachment.Data)) > utils.MaxAttachmentSizeBytes {
		return nil, NewValidationError("file", utils.ErrAttachmentTooLarge.Error())
	}
	data := attachment.Data
	if utils.IsImageMimeType(attachment.ContentType) {
		shrunk, err := utils.ShrinkImage(data, attachment.ContentType, config.AttachmentMaxPixels())
		if err != nil {
			return nil, NewValidationError("file", "image could not be read")
		}
		data = shrunk
	}
	name := attachment.FileName
	if name == "" {
		name = utils.GenerateUniqueFilename()
	}
	return &upstream.Part{
		FieldName:   "file",
		FileName:    name,
		ContentType: attachment.ContentType,
		Data:        data,
	}, nil
}

func postHandLoan(ctx context.Context, payload handLoanPayload, file *upstream.Part) (*HandLoan, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	parts := []upstream.Part{{FieldName: "handLoan", ContentType: "application/json", Data: encoded}}
	if file != nil {
		parts = append(parts, *file)
	}

	body, err := upstream.Default().PostMultipart(ctx, "/handloans", parts)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		// some deployments answer 201 with no body
		var r handLoanRecord
		if err := json.Unmarshal(encoded, &r); err != nil {
			return nil, err
		}
		loan := r.normalize()
		return &loan, nil
	}
	record, err := upstream.DecodeOne[handLoanRecord](body)
	if err != nil {
		return nil, err
	}
	loan := record.normalize()
	return &loan, nil
}
