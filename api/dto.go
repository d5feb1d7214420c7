/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model (integer cents, typed ids) from the external
  API contract (decimal amounts, YYYY-MM-DD dates).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Requests accept amounts as JSON numbers or strings (shopspring/decimal).
  Responses always render them as strings with two decimals ("300.00").

VALIDATION:
  Request types carry go-playground/validator tags; see validation.go.
  Domain rules (known periodicity, plan preconditions) are enforced by the
  engine and surface as 400 as well.

SEE ALSO:
  - handlers.go: Uses these types
  - validation.go: Validator setup
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/household-ledger/advance"
)

// =============================================================================
// ADVANCES
// =============================================================================

// AdvanceDTO represents an advance in API responses.
type AdvanceDTO struct {
	ID                   int64   `json:"id"`
	Concept              string  `json:"concept"`
	Description          string  `json:"description,omitempty"`
	OutstandingAmount    string  `json:"outstanding_amount"`
	SuggestedInstallment string  `json:"suggested_installment"`
	StartDate            string  `json:"start_date"`
	ExpectedEndDate      *string `json:"expected_end_date"`
	Status               string  `json:"status"`
	SourceAccountID      *int64  `json:"source_account_id"`
	Periodicity          string  `json:"periodicity"`
}

// AdvanceDetailDTO is an advance with its payment plan.
type AdvanceDetailDTO struct {
	AdvanceDTO
	Payments     []PaymentDTO `json:"payments"`
	PendingTotal string       `json:"pending_total"`
}

// SaveAdvanceRequest creates (id omitted) or updates an advance.
type SaveAdvanceRequest struct {
	ID                   int64           `json:"id" validate:"gte=0"`
	Concept              string          `json:"concept" validate:"required,max=200"`
	Description          string          `json:"description" validate:"max=1000"`
	OutstandingAmount    decimal.Decimal `json:"outstanding_amount" validate:"gte=0"`
	SuggestedInstallment decimal.Decimal `json:"suggested_installment" validate:"gte=0"`
	StartDate            string          `json:"start_date" validate:"required"`
	ExpectedEndDate      string          `json:"expected_end_date"`
	SourceAccountID      *int64          `json:"source_account_id" validate:"omitempty,gt=0"`
	Periodicity          string          `json:"periodicity"`
}

// DeleteAdvancesRequest lists the advances to delete.
type DeleteAdvancesRequest struct {
	Advances []int64 `json:"advances" validate:"required,min=1,dive,gt=0"`
}

// RecalculatePlanRequest triggers the plan recalculator. Omitted terms are
// read from the stored advance.
type RecalculatePlanRequest struct {
	AdvanceID            int64            `json:"advance_id" validate:"required,gt=0"`
	OutstandingAmount    *decimal.Decimal `json:"outstanding_amount" validate:"omitempty,gte=0"`
	SuggestedInstallment *decimal.Decimal `json:"suggested_installment" validate:"omitempty,gt=0"`
	StartDate            *string          `json:"start_date"`
	Periodicity          *string          `json:"periodicity"`
}

// PeriodicityDTO is one selectable installment interval.
type PeriodicityDTO struct {
	ID     string `json:"id"`
	Months int    `json:"months"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID                   int64  `json:"id"`
	AdvanceID            int64  `json:"advance_id"`
	Amount               string `json:"amount"`
	DueDate              string `json:"due_date"`
	Kind                 string `json:"kind"`
	Status               string `json:"status"`
	DestinationAccountID *int64 `json:"destination_account_id"`
	Description          string `json:"description,omitempty"`
}

// SavePaymentRequest creates (id omitted) or updates a payment.
type SavePaymentRequest struct {
	ID                   int64           `json:"id" validate:"gte=0"`
	AdvanceID            int64           `json:"advance_id" validate:"required_without=ID,gte=0"`
	Amount               decimal.Decimal `json:"amount" validate:"gt=0"`
	DueDate              string          `json:"due_date" validate:"required"`
	Kind                 string          `json:"kind" validate:"omitempty,oneof=regular extraordinary"`
	Status               string          `json:"status" validate:"omitempty,oneof=pending paid"`
	DestinationAccountID *int64          `json:"destination_account_id" validate:"omitempty,gt=0"`
	Description          string          `json:"description" validate:"max=1000"`
}

// PaymentStatusRequest flips a payment between pending and paid.
type PaymentStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending paid"`
}

// DeletionResultDTO reports the advance balance after a payment deletion.
type DeletionResultDTO struct {
	Deleted          PaymentDTO `json:"deleted"`
	AdvanceID        int64      `json:"advance_id"`
	RemainingBalance string     `json:"remaining_balance"`
	Redistributed    bool       `json:"redistributed"`
}

// =============================================================================
// PLAN EVENTS
// =============================================================================

type PlanEventDTO struct {
	ID        string `json:"id"`
	AdvanceID int64  `json:"advance_id"`
	Action    string `json:"action"`
	Detail    string `json:"detail"`
	At        string `json:"at"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Details string          `json:"details,omitempty"`
	Fields  []FieldErrorDTO `json:"fields,omitempty"`
}

// FieldErrorDTO describes one failed validation rule.
type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAdvanceDTO(a advance.Advance) AdvanceDTO {
	dto := AdvanceDTO{
		ID:                   int64(a.ID),
		Concept:              a.Concept,
		Description:          a.Description,
		OutstandingAmount:    a.Outstanding.String(),
		SuggestedInstallment: a.Suggested.String(),
		StartDate:            advance.FormatDate(a.StartDate),
		Status:               string(a.Status),
		Periodicity:          string(a.Periodicity),
	}
	if a.ExpectedEndDate != nil {
		end := advance.FormatDate(*a.ExpectedEndDate)
		dto.ExpectedEndDate = &end
	}
	if a.SourceAccountID != nil {
		acc := int64(*a.SourceAccountID)
		dto.SourceAccountID = &acc
	}
	return dto
}

func toPaymentDTO(p advance.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:          int64(p.ID),
		AdvanceID:   int64(p.AdvanceID),
		Amount:      p.Amount.String(),
		DueDate:     advance.FormatDate(p.DueDate),
		Kind:        string(p.Kind),
		Status:      string(p.Status),
		Description: p.Description,
	}
	if p.DestinationAccountID != nil {
		acc := int64(*p.DestinationAccountID)
		dto.DestinationAccountID = &acc
	}
	return dto
}

func toPaymentDTOs(payments []advance.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		dtos = append(dtos, toPaymentDTO(p))
	}
	return dtos
}

func toPlanEventDTO(e advance.PlanEvent) PlanEventDTO {
	return PlanEventDTO{
		ID:        e.ID,
		AdvanceID: int64(e.AdvanceID),
		Action:    string(e.Action),
		Detail:    e.Detail,
		At:        e.At.UTC().Format(time.RFC3339),
	}
}

func (req SaveAdvanceRequest) toInput() (advance.AdvanceInput, error) {
	start, err := advance.ParseDate(req.StartDate)
	if err != nil {
		return advance.AdvanceInput{}, err
	}
	periodicity, err := advance.ParsePeriodicity(req.Periodicity)
	if err != nil {
		return advance.AdvanceInput{}, err
	}
	outstanding, err := advance.MoneyFromDecimal(req.OutstandingAmount)
	if err != nil {
		return advance.AdvanceInput{}, err
	}
	suggested, err := advance.MoneyFromDecimal(req.SuggestedInstallment)
	if err != nil {
		return advance.AdvanceInput{}, err
	}
	in := advance.AdvanceInput{
		ID:          advance.AdvanceID(req.ID),
		Concept:     req.Concept,
		Description: req.Description,
		Outstanding: outstanding,
		Suggested:   suggested,
		StartDate:   start,
		Periodicity: periodicity,
	}
	if req.ExpectedEndDate != "" {
		end, err := advance.ParseDate(req.ExpectedEndDate)
		if err != nil {
			return advance.AdvanceInput{}, err
		}
		in.ExpectedEndDate = &end
	}
	if req.SourceAccountID != nil {
		acc := advance.AccountID(*req.SourceAccountID)
		in.SourceAccountID = &acc
	}
	return in, nil
}

func (req SavePaymentRequest) toInput() (advance.PaymentInput, error) {
	due, err := advance.ParseDate(req.DueDate)
	if err != nil {
		return advance.PaymentInput{}, err
	}
	amount, err := advance.MoneyFromDecimal(req.Amount)
	if err != nil {
		return advance.PaymentInput{}, err
	}
	in := advance.PaymentInput{
		ID:          advance.PaymentID(req.ID),
		AdvanceID:   advance.AdvanceID(req.AdvanceID),
		Amount:      amount,
		DueDate:     due,
		Kind:        advance.PaymentKind(req.Kind),
		Status:      advance.PaymentStatus(req.Status),
		Description: req.Description,
	}
	if req.DestinationAccountID != nil {
		acc := advance.AccountID(*req.DestinationAccountID)
		in.DestinationAccountID = &acc
	}
	return in, nil
}

func (req RecalculatePlanRequest) toTerms() (advance.PlanTerms, error) {
	var terms advance.PlanTerms
	if req.OutstandingAmount != nil {
		m, err := advance.MoneyFromDecimal(*req.OutstandingAmount)
		if err != nil {
			return terms, err
		}
		terms.Outstanding = &m
	}
	if req.SuggestedInstallment != nil {
		m, err := advance.MoneyFromDecimal(*req.SuggestedInstallment)
		if err != nil {
			return terms, err
		}
		terms.Suggested = &m
	}
	if req.StartDate != nil {
		start, err := advance.ParseDate(*req.StartDate)
		if err != nil {
			return terms, err
		}
		terms.StartDate = &start
	}
	if req.Periodicity != nil {
		p, err := advance.ParsePeriodicity(*req.Periodicity)
		if err != nil {
			return terms, err
		}
		terms.Periodicity = &p
	}
	return terms, nil
}
