package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeBookingCreated, "corr-42", BookingCreated{
		BookingID:   "BK-1",
		GuestID:     7,
		SKU:         "ROOM-101",
		Quantity:    1,
		AmountCents: 12900,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, "corr-42", env.CorrelationID)

	raw, err := env.Encode()
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, TypeBookingCreated, got.EventName)

	var data BookingCreated
	require.NoError(t, got.DecodeData(&data))
	assert.Equal(t, "BK-1", data.BookingID)
	assert.Equal(t, int64(12900), data.AmountCents)
}

func TestDecodeRejectsMissingEventName(t *testing.T) {
	_, err := Decode([]byte(`{"event_id":"x","data":{}}`))
	assert.Error(t, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestEncodeIsDeterministic(t *testing.T) {
	env, err := NewEnvelope(TypePaymentFailed, "", PaymentFailed{
		PaymentID: "PAY-1", BookingID: "BK-1", AmountCents: 500, Reason: "card declined",
	})
	require.NoError(t, err)

	a, err := env.Encode()
	require.NoError(t, err)
	b, err := env.Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
