package has

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snapshot() Snapshot {
	return Snapshot{
		ID: "snap-1",
		Quotes: Quotes{
			Gold: Quote{Buy: d("2500"), Sell: d("2600")},
			Currencies: map[string]Quote{
				"USD": {Buy: d("32"), Sell: d("33")},
			},
		},
	}
}

func TestToHASUsesDirectionalGoldRate(t *testing.T) {
	snap := snapshot()

	got, err := snap.ToHAS(d("10000"), "TL", Buy)
	require.NoError(t, err)
	require.True(t, got.Equal(d("4")), got.String())

	got, err = snap.ToHAS(d("5200"), "try", Sell)
	require.NoError(t, err)
	require.True(t, got.Equal(d("2")), got.String())
}

func TestToHASMirrorsForeignQuote(t *testing.T) {
	snap := snapshot()

	// receiving USD: valued at the USD buy quote against the gold sell rate
	got, err := snap.ToHAS(d("325"), "USD", Sell)
	require.NoError(t, err)
	require.True(t, got.Equal(d("4")), got.String())

	// paying USD out: valued at the USD sell quote against the gold buy rate
	got, err = snap.ToHAS(d("100"), "USD", Buy)
	require.NoError(t, err)
	require.True(t, got.Equal(d("1.32")), got.String())
}

func TestToHASRoundsToSixPlaces(t *testing.T) {
	snap := snapshot()
	got, err := snap.ToHAS(d("1"), "TL", Sell)
	require.NoError(t, err)
	require.Equal(t, "0.000385", got.String())
}

func TestHASPassesThrough(t *testing.T) {
	got, err := Snapshot{}.ToHAS(d("1.23456789"), "has", Sell)
	require.NoError(t, err)
	require.Equal(t, "1.234568", got.String())
}

func TestFromHASInverse(t *testing.T) {
	snap := snapshot()
	got, err := snap.FromHAS(d("4"), "TL", Buy)
	require.NoError(t, err)
	require.True(t, got.Equal(d("10000")))

	got, err = snap.FromHAS(d("1"), "USD", Mid)
	require.NoError(t, err)
	require.Equal(t, "78.46", got.String())
}

func TestInvalidRate(t *testing.T) {
	_, err := Snapshot{}.ToHAS(d("10"), "TL", Sell)
	require.ErrorIs(t, err, ErrInvalidRate)

	snap := snapshot()
	_, err = snap.ToHAS(d("10"), "EUR", Sell)
	require.ErrorIs(t, err, ErrInvalidRate)

	snap.Currencies["EUR"] = Quote{Buy: d("0"), Sell: d("35")}
	require.ErrorIs(t, snap.Validate(), ErrInvalidRate)
}

func TestNormalizeCurrency(t *testing.T) {
	code, err := NormalizeCurrency(" usd ")
	require.NoError(t, err)
	require.Equal(t, "USD", code)

	code, err = NormalizeCurrency("TRY")
	require.NoError(t, err)
	require.Equal(t, BaseCurrency, code)

	_, err = NormalizeCurrency("ZZZ")
	require.ErrorIs(t, err, ErrUnknownCurrency)
	_, err = NormalizeCurrency("")
	require.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestCrossRateAtMid(t *testing.T) {
	snap := snapshot()
	rate, err := snap.CrossRate("USD", "TL")
	require.NoError(t, err)
	require.True(t, rate.Equal(d("32.5")))
}
