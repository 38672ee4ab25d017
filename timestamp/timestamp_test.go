package timestamp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrdering(t *testing.T) {
	require.True(t, Timestamp(1).Less(2))
	require.False(t, Timestamp(2).Less(2))
	require.True(t, Min.Less(Initial))
	require.True(t, Initial.Less(Max))
	require.True(t, Invalid.Less(Max))
}

func TestNext(t *testing.T) {
	require.Equal(t, Timestamp(6), Timestamp(5).Next())
	require.Equal(t, Initial, Min.Next())
	require.Panics(t, func() { Max.Next() })
}

func TestString(t *testing.T) {
	require.Equal(t, "0", Min.String())
	require.Equal(t, "1", Initial.String())
	require.Equal(t, "42", Timestamp(42).String())
	require.Equal(t, "18446744073709551615", Max.String())
}
