package wizard

import (
	"github.com/shopspring/decimal"

	"github.com/distrohq/salesdesk/internal/commerce"
	"github.com/distrohq/salesdesk/internal/payment"
)

type selectCustomerRequest struct {
	CustomerID   string `json:"customer_id" validate:"required"`
	CustomerName string `json:"customer_name"`
}

type cartItemRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	ProductName string `json:"product_name"`
	Unit        string `json:"unit"`
	Quantity    int    `json:"quantity" validate:"min=0"`
}

type dropOffCountRequest struct {
	Count int `json:"count" validate:"min=1"`
}

type dropOffPatchRequest struct {
	ReceiverName   *string `json:"receiver_name"`
	ReceiverMobile *string `json:"receiver_mobile"`
	AddressLine1   *string `json:"address_line1"`
	AddressLine2   *string `json:"address_line2"`
	City           *string `json:"city"`
	State          *string `json:"state"`
	PostalCode     *string `json:"postal_code"`
}

type coordinatesRequest struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

type dropOffItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=0"`
}

type warehouseRequest struct {
	WarehouseType string `json:"warehouse_type" validate:"required"`
}

type gotoRequest struct {
	Step string `json:"step" validate:"required"`
}

type finalizeRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,oneof=cash bank"`
}

// paymentRecordRequest is one entry of the payments JSON field in the
// multipart submission; the proof file rides alongside as proof_<index>.
type paymentRecordRequest struct {
	TransactionDate string          `json:"transaction_date" validate:"required"`
	PaymentMethod   string          `json:"payment_method" validate:"required,oneof=cash bank"`
	PaymentMode     string          `json:"payment_mode"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Reference       string          `json:"reference"`
	Remark          string          `json:"remark"`
	UTRNumber       string          `json:"utr_number"`
}

func (p paymentRecordRequest) toRecord(proof *commerce.ProofFile) payment.Record {
	return payment.Record{
		TransactionDate: p.TransactionDate,
		Method:          commerce.PaymentMethod(p.PaymentMethod),
		Mode:            p.PaymentMode,
		Amount:          p.Amount,
		Reference:       p.Reference,
		Remark:          p.Remark,
		UTRNumber:       p.UTRNumber,
		Proof:           proof,
	}
}
