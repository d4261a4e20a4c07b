package ledger

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDollars(t *testing.T) {
	tests := []struct {
		name    string
		dollars float64
		want    Amount
		wantErr bool
	}{
		{"zero", 0, 0, false},
		{"five cents", 0.05, 50_000, false},
		{"one dollar", 1.00, 1_000_000, false},
		{"rounds to nearest micro", 0.0000004, 0, false},
		{"rounds up half micro", 0.0000006, 1, false},
		{"negative", -0.01, 0, true},
		{"nan", math.NaN(), 0, true},
		{"positive infinity", math.Inf(1), 0, true},
		{"negative infinity", math.Inf(-1), 0, true},
		{"overflow", 1e16, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromDollars(tt.dollars)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmount_Dollars(t *testing.T) {
	assert.InDelta(t, 0.05, MustDollars(0.05).Dollars(), 1e-9)
	assert.InDelta(t, 12.345678, MustDollars(12.345678).Dollars(), 1e-9)
}

func TestAmount_String(t *testing.T) {
	assert.Equal(t, "$0.05", MustDollars(0.05).String())
	assert.Equal(t, "$1", MustDollars(1.00).String())
	assert.Equal(t, "$0.001", MustDollars(0.001).String())
}

func TestAmount_JSON(t *testing.T) {
	data, err := json.Marshal(MustDollars(0.25))
	require.NoError(t, err)
	assert.Equal(t, "0.25", string(data))

	var a Amount
	require.NoError(t, json.Unmarshal([]byte("0.05"), &a))
	assert.Equal(t, MustDollars(0.05), a)

	err = json.Unmarshal([]byte("-1"), &a)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMustDollars_Panics(t *testing.T) {
	assert.Panics(t, func() { MustDollars(-1) })
}
