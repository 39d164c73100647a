package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDollars(t *testing.T) {
	assert.Equal(t, "6.00", Dollars(600))
	assert.Equal(t, "15.00", Dollars(1500))
	assert.Equal(t, "0.05", Dollars(5))
	assert.Equal(t, "-5.00", Dollars(-500))
}

func TestCents(t *testing.T) {
	got, err := Cents("5.00")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got)

	got, err = Cents("1.005")
	require.NoError(t, err)
	assert.Equal(t, int64(101), got)

	_, err = Cents("five")
	assert.Error(t, err)
}
