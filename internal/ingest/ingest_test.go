package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/mulerift/internal/domain"
)

const header = "source_account_id,target_account_id,amount,timestamp\n"

func TestParse(t *testing.T) {
	t.Run("ValidRows", func(t *testing.T) {
		input := header +
			"A,B,1000.50,2024-01-01T10:00:00Z\n" +
			"B,C,999,2024-01-01T11:00:00Z\n"

		ledger, err := Parse(strings.NewReader(input), "mem.csv")
		require.NoError(t, err)

		assert.Equal(t, 2, ledger.Rows)
		assert.Equal(t, 0, ledger.Skipped)
		require.Len(t, ledger.Transactions, 2)
		assert.Equal(t, "1000.5", ledger.Transactions[0].Amount.String())
		assert.Equal(t, []string{"A", "B", "C"}, ledger.AccountIDs)
	})

	t.Run("SkipsMalformedRows", func(t *testing.T) {
		input := header +
			"A,B,abc,2024-01-01T10:00:00Z\n" +
			"A,B,-5,2024-01-01T10:00:00Z\n" +
			"A,B,0,2024-01-01T10:00:00Z\n" +
			"A,B,10,yesterday\n" +
			"A,B,10\n" +
			",B,10,2024-01-01T10:00:00Z\n" +
			"A,A,10,2024-01-01T10:00:00Z\n" +
			"A,B,10,2024-01-01T10:00:00Z\n"

		ledger, err := Parse(strings.NewReader(input), "mem.csv")
		require.NoError(t, err)

		assert.Equal(t, 8, ledger.Rows)
		assert.Equal(t, 7, ledger.Skipped)
		assert.Equal(t, 1, ledger.SkipReasons[SkipBadAmount])
		assert.Equal(t, 2, ledger.SkipReasons[SkipNonPositive])
		assert.Equal(t, 1, ledger.SkipReasons[SkipBadTimestamp])
		assert.Equal(t, 2, ledger.SkipReasons[SkipMissingField])
		assert.Equal(t, 1, ledger.SkipReasons[SkipSelfLoop])
		require.Len(t, ledger.Transactions, 1)
	})

	t.Run("SelfLoopNeverProducesNode", func(t *testing.T) {
		input := header +
			"X,X,10,2024-01-01T10:00:00Z\n" +
			"A,B,10,2024-01-01T10:00:00Z\n"

		ledger, err := Parse(strings.NewReader(input), "mem.csv")
		require.NoError(t, err)

		assert.NotContains(t, ledger.AccountIDs, "X")
		for _, e := range ledger.Edges {
			assert.NotEqual(t, "X", e.Source)
		}
	})

	t.Run("HeaderOnlyIsInputError", func(t *testing.T) {
		_, err := Parse(strings.NewReader(header), "only-header.csv")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInput))
		assert.Contains(t, err.Error(), "only-header.csv")
	})

	t.Run("EmptyFileIsInputError", func(t *testing.T) {
		_, err := Parse(strings.NewReader(""), "empty.csv")
		require.Error(t, err)
		assert.Equal(t, domain.KindInput, domain.KindOf(err))
	})

	t.Run("AllRowsInvalidIsInputError", func(t *testing.T) {
		_, err := Parse(strings.NewReader(header+"A,B,x,y\n"), "bad.csv")
		require.ErrorIs(t, err, domain.ErrInput)
	})

	t.Run("NamedColumns", func(t *testing.T) {
		input := "transaction_id,sender_id,receiver_id,amount,timestamp\n" +
			"T1,A,B,10,2024-01-01 10:00:00\n"

		ledger, err := Parse(strings.NewReader(input), "named.csv")
		require.NoError(t, err)
		require.Len(t, ledger.Transactions, 1)
		assert.Equal(t, "A", ledger.Transactions[0].SourceAccountID)
		assert.Equal(t, "B", ledger.Transactions[0].TargetAccountID)
	})

	t.Run("OversizedRowIsSkipped", func(t *testing.T) {
		long := "X," + strings.Repeat("Y", 2*MaxRowBytes) + ",10,2024-01-01T10:00:00Z\n"
		input := header +
			"A,B,10,2024-01-01T10:00:00Z\n" +
			long +
			"B,C,10,2024-01-01T11:00:00Z\n" +
			"C,A,10,2024-01-01T12:00:00Z"

		ledger, err := Parse(strings.NewReader(input), "long.csv")
		require.NoError(t, err)

		assert.Equal(t, 4, ledger.Rows)
		assert.Equal(t, 1, ledger.Skipped)
		assert.Equal(t, 1, ledger.SkipReasons[SkipRowTooLong])
		require.Len(t, ledger.Transactions, 3)
		assert.Equal(t, []string{"A", "B", "C"}, ledger.AccountIDs)
	})

	t.Run("OversizedHeaderIsInputError", func(t *testing.T) {
		input := strings.Repeat("h", MaxRowBytes+10) + "\nA,B,10,2024-01-01T10:00:00Z\n"

		_, err := Parse(strings.NewReader(input), "long-header.csv")
		require.ErrorIs(t, err, domain.ErrInput)
	})

	t.Run("InvalidUTF8AccountIsSkipped", func(t *testing.T) {
		input := header +
			"A\xff,C,10,2024-01-01T10:00:00Z\n" +
			"C,A\xfe,10,2024-01-01T11:00:00Z\n" +
			"A,B,10,2024-01-01T12:00:00Z\n"

		ledger, err := Parse(strings.NewReader(input), "bytes.csv")
		require.NoError(t, err)

		assert.Equal(t, 2, ledger.SkipReasons[SkipBadAccount])
		assert.Equal(t, []string{"A", "B"}, ledger.AccountIDs)
	})

	t.Run("QuotedFieldsAreNotUnescaped", func(t *testing.T) {
		input := header + `A,B,"1,000",2024-01-01T10:00:00Z` + "\n"

		_, err := Parse(strings.NewReader(input), "quoted.csv")
		require.ErrorIs(t, err, domain.ErrInput)
	})
}

func TestParseFileMissingPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.csv")

	_, err := ParseFile(path)
	require.ErrorIs(t, err, domain.ErrInput)
	assert.Contains(t, err.Error(), path)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+"A,B,10,2024-01-01T10:00:00Z\r\n"), 0o644))

	ledger, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, ledger.Source)
	assert.Len(t, ledger.Transactions, 1)
}

func TestAggregateEdges(t *testing.T) {
	input := header +
		"A,B,100,2024-01-01T12:00:00Z\n" +
		"A,B,50.25,2024-01-01T08:00:00Z\n" +
		"A,B,1,2024-01-02T08:00:00Z\n" +
		"B,A,7,2024-01-01T09:00:00Z\n"

	ledger, err := Parse(strings.NewReader(input), "mem.csv")
	require.NoError(t, err)
	require.Len(t, ledger.Edges, 2)

	ab := ledger.Edges[0]
	assert.Equal(t, "A", ab.Source)
	assert.Equal(t, "B", ab.Target)
	assert.Equal(t, 3, ab.TransactionCount)
	assert.Equal(t, "151.25", ab.TotalAmount.String())
	assert.Equal(t, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), ab.EarliestTimestamp)
	assert.Equal(t, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), ab.LatestTimestamp)

	ba := ledger.Edges[1]
	assert.Equal(t, "B", ba.Source)
	assert.Equal(t, 1, ba.TransactionCount)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2024-03-05T14:30:00Z", want},
		{"2024-03-05T16:30:00+02:00", want},
		{"2024-03-05T14:30:00", want},
		{"2024-03-05 14:30:00", want},
		{"2024-03-05T14:30:00.000Z", want},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTimestamp(tt.raw)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := ParseTimestamp("05/03/2024")
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	a := Digest([]byte(header + "A,B,10,2024-01-01T00:00:00Z\n"))
	b := Digest([]byte(header + "A,B,10,2024-01-01T00:00:00Z\n"))
	c := Digest([]byte(header + "A,B,11,2024-01-01T00:00:00Z\n"))

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Digest(nil))
}
