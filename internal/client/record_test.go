package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeflowhq/homeflow/pkg/schema"
)

func TestParseTransactionType(t *testing.T) {
	cases := []struct {
		in   string
		want TransactionType
	}{
		{"rent", TransactionRent},
		{"RENT", TransactionRent},
		{" Rent ", TransactionRent},
		{"buy", TransactionBuy},
		{"BUY", TransactionBuy},
	}
	for _, tc := range cases {
		got, err := ParseTransactionType(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseTransactionTypeInvalid(t *testing.T) {
	for _, in := range []string{"", "lease", "sell"} {
		_, err := ParseTransactionType(in)
		require.Error(t, err, in)

		var pipeErr *schema.PipeError
		require.True(t, errors.As(err, &pipeErr))
		assert.Equal(t, schema.ErrCodeValidation, pipeErr.Code)
	}
}

func TestNewPropertyDetails(t *testing.T) {
	d, err := NewPropertyDetails("Lisbon", "apartment", "rent")
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", d.Location)
	assert.Equal(t, "apartment", d.PropertyType)
	assert.Equal(t, TransactionRent, d.TransactionType)

	_, err = NewPropertyDetails("Lisbon", "apartment", "lease")
	assert.Error(t, err)
}

func TestFoldEmptyLog(t *testing.T) {
	assert.Nil(t, Fold(nil))
	assert.Nil(t, Fold([]SaveClientInfo{}))
}

func TestFoldLastWriteWins(t *testing.T) {
	first := SaveClientInfo{
		Name:  "Alice",
		Email: "alice@example.com",
		Details: &PropertyDetails{
			Location:        "Lisbon",
			PropertyType:    "apartment",
			TransactionType: TransactionRent,
		},
	}
	second := SaveClientInfo{
		Name:  "Alice Santos",
		Email: "alice@example.com",
		Phone: "+351 555 0100",
	}

	r := Fold([]SaveClientInfo{first, second})
	require.NotNil(t, r)
	assert.Equal(t, "Alice Santos", r.Name)
	assert.Equal(t, "+351 555 0100", r.Phone)
	// Details from the first event survive because the second carried none.
	require.NotNil(t, r.Details)
	assert.Equal(t, "Lisbon", r.Details.Location)
}
