package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRange(t *testing.T) {
	t.Run("single day", func(t *testing.T) {
		tr, err := ParseTimeRange("2024-03-01")
		require.NoError(t, err)
		assert.True(t, tr.SingleDay())
		assert.Equal(t, "2024-03-01", tr.String())
	})

	t.Run("range", func(t *testing.T) {
		tr, err := ParseTimeRange("2024-03-01~2024-03-05")
		require.NoError(t, err)
		assert.False(t, tr.SingleDay())
		assert.Equal(t, "2024-03-01~2024-03-05", tr.String())
	})

	t.Run("same day range collapses", func(t *testing.T) {
		tr, err := ParseTimeRange("2024-03-01~2024-03-01")
		require.NoError(t, err)
		assert.Equal(t, "2024-03-01", tr.String())
	})

	invalid := []string{
		"",
		"last week",
		"2024-3-1",
		"2024-03-01~",
		"2024/03/01",
		"2024-03-05~2024-03-01",
		"2024-13-01",
	}
	for _, in := range invalid {
		t.Run("invalid "+in, func(t *testing.T) {
			_, err := ParseTimeRange(in)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.ErrorIs(t, err, ErrInvalidTimeRange)
		})
	}
}

func TestIncrementalRange(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.Local)

	t.Run("from last sync day", func(t *testing.T) {
		last := time.Date(2024, 3, 7, 23, 59, 0, 0, time.Local)
		assert.Equal(t, "2024-03-07~2024-03-10", IncrementalRange(last, now).String())
	})

	t.Run("synced today", func(t *testing.T) {
		last := time.Date(2024, 3, 10, 1, 0, 0, 0, time.Local)
		assert.Equal(t, "2024-03-10", IncrementalRange(last, now).String())
	})

	t.Run("zero falls back to yesterday", func(t *testing.T) {
		assert.Equal(t, "2024-03-09~2024-03-10", IncrementalRange(time.Time{}, now).String())
	})
}

func TestNormalizeTime(t *testing.T) {
	t.Run("canonical passes through", func(t *testing.T) {
		out, ok := NormalizeTime("2024-03-01 08:30:00")
		assert.True(t, ok)
		assert.Equal(t, "2024-03-01 08:30:00", out)
	})

	t.Run("iso with offset converts to local", func(t *testing.T) {
		in := "2024-03-01T08:30:00+08:00"
		expected, err := time.Parse(time.RFC3339, in)
		require.NoError(t, err)

		out, ok := NormalizeTime(in)
		assert.True(t, ok)
		assert.Equal(t, expected.In(time.Local).Format(TimeLayout), out)
	})

	t.Run("iso without zone keeps wall clock", func(t *testing.T) {
		out, ok := NormalizeTime("2024-03-01T08:30:00")
		assert.True(t, ok)
		assert.Equal(t, "2024-03-01 08:30:00", out)
	})

	t.Run("unparseable returned raw", func(t *testing.T) {
		out, ok := NormalizeTime("yesterday noon")
		assert.False(t, ok)
		assert.Equal(t, "yesterday noon", out)
	})

	t.Run("empty", func(t *testing.T) {
		out, ok := NormalizeTime("")
		assert.True(t, ok)
		assert.Equal(t, "", out)
	})
}
