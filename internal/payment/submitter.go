package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/distrohq/salesdesk/internal/commerce"
	"github.com/distrohq/salesdesk/pkg/division"
	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
)

var acceptedDateLayouts = []string{"2006-01-02", time.RFC3339}

// Record is one payment entry the operator filled in. Amount and
// transaction date are mandatory; the bank sub-mode only when the method
// is bank. The proof attachment and the remaining fields are optional.
type Record struct {
	TransactionDate string                 `json:"transaction_date"`
	Method          commerce.PaymentMethod `json:"payment_method"`
	Mode            string                 `json:"payment_mode,omitempty"`
	Amount          decimal.Decimal        `json:"amount"`
	Reference       string                 `json:"reference,omitempty"`
	Remark          string                 `json:"remark,omitempty"`
	UTRNumber       string                 `json:"utr_number,omitempty"`

	Proof *commerce.ProofFile `json:"-"`
}

type paymentCaller interface {
	SubmitPayments(ctx context.Context, scope division.Scope, orderNumber string, payments []commerce.PaymentPayload) error
}

// Submitter posts all payment records against a finalized order as a
// single multipart transaction. The server-side action is not idempotent,
// so duplicate triggers are suppressed at this boundary.
type Submitter struct {
	remote paymentCaller
	scope  division.Scope

	mu        sync.Mutex
	inFlight  bool
	submitted bool
}

// NewSubmitter builds a submitter for one wizard pass.
func NewSubmitter(remote paymentCaller, scope division.Scope) (*Submitter, error) {
	if remote == nil {
		return nil, fmt.Errorf("payment client required")
	}
	return &Submitter{remote: remote, scope: scope}, nil
}

// Submitted reports whether a submission already succeeded.
func (s *Submitter) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// Submit validates every record locally and, only if all pass, posts the
// batch once. The first violation blocks the call entirely, naming the
// failing record; no network traffic happens on validation failure.
func (s *Submitter) Submit(ctx context.Context, orderNumber string, records []Record) error {
	if strings.TrimSpace(orderNumber) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	if len(records) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "add at least one payment record")
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeInFlight, "payment submission already in flight")
	}
	if s.submitted {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeConflict, "payments already submitted for this order")
	}
	s.inFlight = true
	s.mu.Unlock()

	payloads := make([]commerce.PaymentPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, commerce.PaymentPayload{
			TransactionDate: record.TransactionDate,
			PaymentMethod:   record.Method,
			PaymentMode:     strings.TrimSpace(record.Mode),
			Amount:          record.Amount,
			Reference:       strings.TrimSpace(record.Reference),
			Remark:          strings.TrimSpace(record.Remark),
			UTRNumber:       strings.TrimSpace(record.UTRNumber),
			Proof:           record.Proof,
		})
	}

	err := s.remote.SubmitPayments(ctx, s.scope, orderNumber, payloads)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if err != nil {
		return err
	}
	s.submitted = true
	return nil
}

// Reset clears submission state for a new wizard pass.
func (s *Submitter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.submitted = false
}

func validateRecords(records []Record) error {
	for i, record := range records {
		if !record.Amount.IsPositive() {
			return recordError(i, "amount must be greater than zero")
		}
		if strings.TrimSpace(record.TransactionDate) == "" {
			return recordError(i, "transaction date is required")
		}
		if !validDate(record.TransactionDate) {
			return recordError(i, "transaction date is not a valid date")
		}
		switch record.Method {
		case commerce.PaymentMethodCash:
		case commerce.PaymentMethodBank:
			if strings.TrimSpace(record.Mode) == "" {
				return recordError(i, "payment mode is required for bank payments")
			}
		default:
			return recordError(i, "payment method must be cash or bank")
		}
	}
	return nil
}

func recordError(index int, message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation,
		fmt.Sprintf("payment %d: %s", index+1, message)).
		WithDetails(map[string]any{"payment_index": index})
}

func validDate(value string) bool {
	for _, layout := range acceptedDateLayouts {
		if _, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return true
		}
	}
	return false
}
