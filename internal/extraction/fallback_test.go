package extraction

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFallbackRecordSets_ChunksWithRepeatedHeader(t *testing.T) {
	var b strings.Builder
	b.WriteString("| Id | Detail |\n| -- | ------ |\n")
	for i := 0; i < 45; i++ {
		fmt.Fprintf(&b, "| r%02d | detail %d |\n", i, i)
	}

	sets := BuildFallbackRecordSets(b.String(), 20)
	require.Len(t, sets, 3)

	assert.Len(t, sets[0], 22)
	assert.Len(t, sets[1], 22)
	assert.Len(t, sets[2], 7)

	for i, set := range sets {
		assert.Equal(t, "| Id | Detail |", set[0], "set %d header", i)
		assert.Equal(t, "| -- | ------ |", set[1], "set %d divider", i)
	}
	assert.Equal(t, "| r00 | detail 0 |", sets[0][2])
	assert.Equal(t, "| r20 | detail 20 |", sets[1][2])
	assert.Equal(t, "| r44 | detail 44 |", sets[2][6])
}

func TestBuildFallbackRecordSets_MergesFragmentsAndDropsRepeatedHeaders(t *testing.T) {
	text := `Intro prose.

| Id | Detail |
| -- | ------ |
| a  | one    |
| b  | two    |

Some commentary between fragments.

| Id | Detail |
| -- | ------ |
| c  | three  |

Closing remarks with | a stray pipe.`

	sets := BuildFallbackRecordSets(text, 20)
	require.Len(t, sets, 1)
	assert.Equal(t, []string{
		"| Id | Detail |",
		"| -- | ------ |",
		"| a  | one    |",
		"| b  | two    |",
		"| c  | three  |",
	}, sets[0])
}

func TestBuildFallbackRecordSets_NoTableStructure(t *testing.T) {
	assert.Nil(t, BuildFallbackRecordSets("plain prose without any delimiters", 20))
	assert.Nil(t, BuildFallbackRecordSets("", 20))
}

func TestBuildFallbackRecordSets_RowsWithoutDivider(t *testing.T) {
	// Without a divider nothing ever starts a table, so each bounded row
	// replaces the pending header and only the last one survives.
	text := "| a | one |\n| b | two |\n| c | three |"

	sets := BuildFallbackRecordSets(text, 2)
	require.Len(t, sets, 1)
	assert.Equal(t, []string{"| c | three |"}, sets[0])
}

func TestExtractFallbackTables_PendingHeaderRules(t *testing.T) {
	t.Run("header committed by divider", func(t *testing.T) {
		tables := extractFallbackTables("| h |\n|---|\n| r |")
		require.Len(t, tables, 1)
		assert.Equal(t, []string{"| h |", "|---|", "| r |"}, tables[0])
	})

	t.Run("lone header dropped before any table", func(t *testing.T) {
		tables := extractFallbackTables("| h |\nprose interrupts\n| h2 |\n|----|\n| r |")
		require.Len(t, tables, 1)
		assert.Equal(t, []string{"| h2 |", "|----|", "| r |"}, tables[0])
	})

	t.Run("lone trailing header kept", func(t *testing.T) {
		tables := extractFallbackTables("| h |\n|---|\n| r |\nprose\n| tail |")
		require.Len(t, tables, 2)
		assert.Equal(t, []string{"| tail |"}, tables[1])
	})
}

func TestMergeFallbackTables(t *testing.T) {
	tests := []struct {
		name   string
		tables [][]string
		want   []string
	}{
		{
			name: "later header pair discarded",
			tables: [][]string{
				{"| h |", "|---|", "| a |"},
				{"| h |", "|---|", "| b |"},
			},
			want: []string{"| h |", "|---|", "| a |", "| b |"},
		},
		{
			name: "later fragment without header keeps rows",
			tables: [][]string{
				{"| h |", "|---|", "| a |"},
				{"| b |", "| c |"},
			},
			want: []string{"| h |", "|---|", "| a |", "| b |", "| c |"},
		},
		{
			name: "lone leading divider skipped",
			tables: [][]string{
				{"| h |", "|---|"},
				{"|---|", "| b |"},
			},
			want: []string{"| h |", "|---|", "| b |"},
		},
		{
			name: "leading row and divider in later fragment read as header pair",
			tables: [][]string{
				{"| h |", "|---|", "| a |"},
				{"| b |", "|---|", "| c |"},
			},
			want: []string{"| h |", "|---|", "| a |", "| c |"},
		},
		{
			name: "divider deeper in later fragment dropped",
			tables: [][]string{
				{"| h |", "|---|", "| a |"},
				{"| b |", "| c |", "|---|", "| d |"},
			},
			want: []string{"| h |", "|---|", "| a |", "| b |", "| c |", "| d |"},
		},
		{
			name:   "empty input",
			tables: nil,
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeFallbackTables(tt.tables))
		})
	}
}

func TestSplitIntoRecordSets(t *testing.T) {
	header := []string{"| h |", "|---|"}
	rows := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("| row%d |", i)
		}
		return out
	}

	t.Run("exact multiple", func(t *testing.T) {
		lines := append(append([]string{}, header...), rows(4)...)
		sets := splitIntoRecordSets(lines, 2)
		require.Len(t, sets, 2)
		assert.Equal(t, []string{"| h |", "|---|", "| row0 |", "| row1 |"}, sets[0])
		assert.Equal(t, []string{"| h |", "|---|", "| row2 |", "| row3 |"}, sets[1])
	})

	t.Run("remainder chunk", func(t *testing.T) {
		lines := append(append([]string{}, header...), rows(5)...)
		sets := splitIntoRecordSets(lines, 2)
		require.Len(t, sets, 3)
		assert.Len(t, sets[2], 3)
	})

	t.Run("no header detected", func(t *testing.T) {
		sets := splitIntoRecordSets(rows(3), 2)
		require.Len(t, sets, 2)
		assert.Equal(t, []string{"| row0 |", "| row1 |"}, sets[0])
		assert.Equal(t, []string{"| row2 |"}, sets[1])
	})

	t.Run("header only yields nothing", func(t *testing.T) {
		assert.Nil(t, splitIntoRecordSets(header, 2))
	})

	t.Run("zero row count yields nothing", func(t *testing.T) {
		assert.Nil(t, splitIntoRecordSets(rows(3), 0))
	})
}

func TestRecoverDefectiveHeader(t *testing.T) {
	t.Run("finds first header divider pair", func(t *testing.T) {
		text := "prose\n| Id | Detail |\n| -- | ------ |\n| a | one |"
		got := RecoverDefectiveHeader(text)
		assert.Equal(t, []string{"| Id | Detail |", "| -- | ------ |"}, got)
	})

	t.Run("no divider means no header", func(t *testing.T) {
		assert.Nil(t, RecoverDefectiveHeader("| a | one |\n| b | two |"))
	})

	t.Run("prose resets the candidate", func(t *testing.T) {
		text := "| stale |\nprose resets\n| real |\n|------|"
		got := RecoverDefectiveHeader(text)
		assert.Equal(t, []string{"| real |", "|------|"}, got)
	})

	t.Run("no delimiters at all", func(t *testing.T) {
		assert.Nil(t, RecoverDefectiveHeader("nothing here"))
	})
}
