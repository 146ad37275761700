package repository

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func writeSnapshot(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func Test_SnapshotRepository_Load(t *testing.T) {
	t.Run("valid snapshot", func(t *testing.T) {
		path := writeSnapshot(t, `{
			"2023-01-03": {
				"AAPL": {"price": 125.07, "share": 8},
				"MSFT": {"price": 239.58, "share": 4}
			},
			"2023-02-01": {
				"AAPL": {"price": 145.43, "share": 7}
			}
		}`)

		snapshot, err := NewSnapshotRepository().Load(path)
		require.NoError(t, err)

		require.Equal(t, []string{"AAPL", "MSFT"}, snapshot.Symbols())

		start, err := snapshot.StartDate()
		require.NoError(t, err)
		require.Equal(t, time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC), start)

		expectedCost := decimal.NewFromFloat(125.07).Mul(decimal.NewFromInt(8)).
			Add(decimal.NewFromFloat(239.58).Mul(decimal.NewFromInt(4))).
			Add(decimal.NewFromFloat(145.43).Mul(decimal.NewFromInt(7)))
		require.True(t, snapshot.TotalCost().Equal(expectedCost), snapshot.TotalCost().String())
	})

	t.Run("rejects malformed dates", func(t *testing.T) {
		path := writeSnapshot(t, `{"01/03/2023": {"AAPL": {"price": 125.07, "share": 8}}}`)
		_, err := NewSnapshotRepository().Load(path)
		require.Error(t, err)
	})

	t.Run("rejects non-positive prices", func(t *testing.T) {
		path := writeSnapshot(t, `{"2023-01-03": {"AAPL": {"price": 0, "share": 8}}}`)
		_, err := NewSnapshotRepository().Load(path)
		require.Error(t, err)
	})

	t.Run("rejects negative shares", func(t *testing.T) {
		path := writeSnapshot(t, `{"2023-01-03": {"AAPL": {"price": 125.07, "share": -1}}}`)
		_, err := NewSnapshotRepository().Load(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewSnapshotRepository().Load(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})
}
