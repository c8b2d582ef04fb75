package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"10", Units(10), false},
		{"19.5", 19_500_000, false},
		{"0.000001", 1, false},
		{"0.0000001", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAmountJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Amount `json:"a"`
	}{A: 19_500_000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":19.5}`, string(b))

	var v struct {
		A Amount `json:"a"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"0.5"}`), &v))
	assert.Equal(t, Amount(500_000), v.A)
}

func TestParsePrice(t *testing.T) {
	p, err := ParsePrice("512.34")
	require.NoError(t, err)
	assert.Equal(t, Price(51_234_000_000), p)
	assert.Equal(t, "512.34", p.String())

	p, err = ParsePrice("512.123456789")
	require.NoError(t, err)
	assert.Equal(t, Price(51_212_345_678), p)

	_, err = ParsePrice("92233720368.54775808")
	assert.Error(t, err)
	_, err = ParsePrice("-1e30")
	assert.Error(t, err)

	var v struct {
		P Price `json:"open_price"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"open_price":100000000000000000000}`), &v))
	assert.Zero(t, v.P)
}

func TestParseSide(t *testing.T) {
	for _, in := range []string{"up", "UP", "Up", "uP"} {
		s, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, SideUp, s)
	}
	for _, in := range []string{"down", "DOWN", "dOwN"} {
		s, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, SideDown, s)
	}
	_, err := ParseSide("sideways")
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func TestRoundID(t *testing.T) {
	id, err := ParseRoundID("20250314")
	require.NoError(t, err)
	assert.Equal(t, RoundID("2025-03-14"), id)
	assert.Equal(t, uint64(20250314), id.Numeric())

	back, err := RoundIDFromNumeric(20250314)
	require.NoError(t, err)
	assert.Equal(t, id, back)

	_, err = RoundIDFromNumeric(0)
	assert.ErrorIs(t, err, ErrInvalidRoundID)
	_, err = ParseRoundID("")
	assert.ErrorIs(t, err, ErrInvalidRoundID)
	assert.False(t, RoundID("").Valid())

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	late := time.Date(2025, 3, 15, 2, 0, 0, 0, time.UTC) // 22:00 ET on the 14th
	assert.Equal(t, RoundID("2025-03-14"), RoundIDFor(late, ny))
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("service: place: %w", ErrAlreadyBet)
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrAlreadyBet))
	assert.Equal(t, "Already bet", wrapped.(interface{ Unwrap() error }).Unwrap().Error())
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestAccountRecord(t *testing.T) {
	var a Account
	a.Record(Wager{Amount: 10, Payout: 19, Result: ResultWin})
	a.Record(Wager{Amount: 10, Payout: 19, Result: ResultWin})
	a.Record(Wager{Amount: 10, Payout: 10, Result: ResultPush})
	assert.Equal(t, 2, a.CurrentStreak)
	a.Record(Wager{Amount: 10, Result: ResultLoss})
	assert.Equal(t, 0, a.CurrentStreak)
	assert.Equal(t, 2, a.BestStreak)
	assert.Equal(t, 2, a.TotalWins)
	assert.Equal(t, 1, a.TotalLosses)
	assert.Equal(t, Amount(8), a.TotalProfit)
}
