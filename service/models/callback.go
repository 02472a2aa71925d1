package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// StkResultCallback is the synchronous result the provider posts back after
// the customer answers (or ignores) the STK prompt.
type StkResultCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []CallbackMetadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type CallbackMetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

func (cb *StkResultCallback) CheckoutRequestID() string {
	return cb.Body.StkCallback.CheckoutRequestID
}

func (cb *StkResultCallback) IsSuccessful() bool {
	return cb.Body.StkCallback.ResultCode == 0
}

// ReceiptNumber digs the provider receipt out of the callback metadata.
// Only successful results carry one.
func (cb *StkResultCallback) ReceiptNumber() string {
	return cb.metadataString("MpesaReceiptNumber")
}

func (cb *StkResultCallback) metadataString(name string) string {
	for _, item := range cb.Body.StkCallback.CallbackMetadata.Item {
		if item.Name != name {
			continue
		}
		if value, ok := item.Value.(string); ok {
			return value
		}
	}
	return ""
}

// LedgerConfirmation is the asynchronous C2B posting confirming money landed
// in the receiving account. It is keyed by its own transaction id and bill
// reference, not by the checkout id.
type LedgerConfirmation struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       string `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber"`
	OrgAccountBalance string `json:"OrgAccountBalance"`
	ThirdPartyTransID string `json:"ThirdPartyTransID"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
}

func (lc *LedgerConfirmation) Amount() (decimal.Decimal, error) {
	return decimal.NewFromString(lc.TransAmount)
}

// OccurredAt parses the provider's yyyyMMddHHmmss completion time, falling
// back to the supplied time when the field is absent or malformed.
func (lc *LedgerConfirmation) OccurredAt(fallback time.Time) time.Time {
	if lc.TransTime == "" {
		return fallback
	}
	if _, err := strconv.ParseInt(lc.TransTime, 10, 64); err != nil {
		return fallback
	}
	parsed, err := time.Parse("20060102150405", lc.TransTime)
	if err != nil {
		return fallback
	}
	return parsed
}
