package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusExpired   = "EXPIRED"

	ProviderStkResult = "mpesa-stk"
	ProviderLedger    = "mpesa-c2b"

	EventTypeStkResult          = "stk.result"
	EventTypeLedgerConfirmation = "ledger.confirmation"
)

// PaymentRequest Table holds one STK push attempt and its resolution
type PaymentRequest struct {
	frame.BaseModel

	MerchantRequestID string `gorm:"type:varchar(100)"`
	CheckoutRequestID string `gorm:"type:varchar(100);uniqueIndex"`

	PhoneNumber      string              `gorm:"type:varchar(20)"`
	Amount           decimal.NullDecimal `gorm:"type:numeric" json:"amount"`
	AccountReference string              `gorm:"type:varchar(50);index"`
	Description      string              `gorm:"type:varchar(100)"`

	// Status is monotonic: once terminal it never changes again.
	Status string `gorm:"type:varchar(20);index"`

	// ReceiptNumber arrives on a successful result callback and is the join
	// key the ledger confirmation matches against.
	ReceiptNumber       string `gorm:"type:varchar(50);index"`
	LinkedTransactionID string `gorm:"type:varchar(50)"`

	CorrelationID string `gorm:"type:varchar(50)"`
	InitiatedBy   string `gorm:"type:varchar(50)"`

	InitiatedAt time.Time
	CompletedAt *time.Time
}

func (model *PaymentRequest) IsTerminal() bool {
	switch model.Status {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

func (model *PaymentRequest) IsLinked() bool {
	return model.LinkedTransactionID != ""
}

// CallbackEvent records every distinct inbound provider delivery, keyed by
// (provider, provider_event_id) so duplicate deliveries cannot double-process.
type CallbackEvent struct {
	frame.BaseModel

	Provider        string `gorm:"type:varchar(20);index:idx_callback_provider_event,unique"`
	ProviderEventID string `gorm:"type:varchar(100);index:idx_callback_provider_event,unique"`
	EventType       string `gorm:"type:varchar(50)"`
	OccurredAt      time.Time

	RawPayload datatypes.JSON `gorm:"type:jsonb"`

	PaymentRequestID string `gorm:"type:varchar(50);index"`
	DeliveryCount    int    `gorm:"default:1"`
}

// DeriveEventID picks the first usable provider-supplied identifier, falling
// back to a hash of the raw payload when the provider sent none.
func DeriveEventID(rawPayload []byte, candidates ...string) string {
	for _, candidate := range candidates {
		if candidate != "" {
			return candidate
		}
	}
	sum := sha256.Sum256(rawPayload)
	return hex.EncodeToString(sum[:])
}
