package client

import (
	"strings"

	"github.com/homeflowhq/homeflow/pkg/schema"
)

// TransactionType is the kind of deal the prospect is after.
type TransactionType string

const (
	TransactionRent TransactionType = "RENT"
	TransactionBuy  TransactionType = "BUY"
)

// ParseTransactionType maps the agent-provided string to a TransactionType.
// Unknown values fail validation so no partial save can happen downstream.
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rent":
		return TransactionRent, nil
	case "buy":
		return TransactionBuy, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid transaction type: %q", s)
	}
}

// PropertyDetails describes the property interest extracted from the
// conversation.
type PropertyDetails struct {
	Location        string          `json:"location"`
	PropertyType    string          `json:"property_type"`
	TransactionType TransactionType `json:"transaction_type"`
}

// NewPropertyDetails validates and builds a PropertyDetails value.
func NewPropertyDetails(location, propertyType, transactionType string) (PropertyDetails, error) {
	tt, err := ParseTransactionType(transactionType)
	if err != nil {
		return PropertyDetails{}, err
	}
	return PropertyDetails{
		Location:        location,
		PropertyType:    propertyType,
		TransactionType: tt,
	}, nil
}

// SaveClientInfo is the single event type of the client record log.
type SaveClientInfo struct {
	Name    string           `json:"name"`
	Email   string           `json:"email"`
	Phone   string           `json:"phone"`
	Details *PropertyDetails `json:"details,omitempty"`
}

// Record is the current state of a client, always derived by folding the
// persisted event log in order.
type Record struct {
	Name    string           `json:"name"`
	Email   string           `json:"email"`
	Phone   string           `json:"phone"`
	Details *PropertyDetails `json:"details,omitempty"`
}

// Fold reduces an ordered event sequence into the current record.
// Returns nil when the log is empty. Later events win field by field,
// matching the append-only, last-write semantics of the log.
func Fold(events []SaveClientInfo) *Record {
	if len(events) == 0 {
		return nil
	}
	r := &Record{}
	for _, e := range events {
		r.Name = e.Name
		r.Email = e.Email
		r.Phone = e.Phone
		if e.Details != nil {
			d := *e.Details
			r.Details = &d
		}
	}
	return r
}
