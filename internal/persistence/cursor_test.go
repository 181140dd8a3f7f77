package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MayankBharati/solidtracker/internal/domain"
)

func TestCursorRoundTripKeepsNanoseconds(t *testing.T) {
	in := &domain.Cursor{StartedAt: time.Date(2024, 4, 2, 9, 0, 0, 123456789, time.FixedZone("x", 3600)), ID: "te-1"}

	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.True(t, in.StartedAt.Equal(out.StartedAt))
	require.Equal(t, "te-1", out.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"not-a-cursor!", "Zm9v", EncodeCursor(&domain.Cursor{ID: ""})} {
		_, err := DecodeCursor(token)
		require.Error(t, err, token)
	}

	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
	require.Empty(t, EncodeCursor(nil))
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, 50, ClampLimit(0, 50, 500))
	require.Equal(t, 50, ClampLimit(-3, 50, 500))
	require.Equal(t, 500, ClampLimit(9000, 50, 500))
	require.Equal(t, 7, ClampLimit(7, 50, 500))
}
