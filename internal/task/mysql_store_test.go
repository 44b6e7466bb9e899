package task

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWhereClauseEmptyFilter(t *testing.T) {
	where, args := whereClause(NewFilter())
	require.Empty(t, where)
	require.Empty(t, args)
}

func TestWhereClauseCombinesConditions(t *testing.T) {
	since := time.Unix(1_700_000_000, 0)
	filter := NewFilter(
		WithStatuses(StatusFailed, StatusPending, "bogus"),
		WithSources("api"),
		UpdatedBetween(since, time.Time{}),
		WithResult(false),
		Matching("50%_off"),
	)
	where, args := whereClause(filter)

	require.True(t, strings.HasPrefix(where, " WHERE "))
	require.Contains(t, where, "status IN (?,?)")
	require.Contains(t, where, "source IN (?)")
	require.Contains(t, where, "updated_at >= ?")
	require.NotContains(t, where, "updated_at <= ?")
	require.Contains(t, where, "result_outcome = ''")
	require.Equal(t, 6, strings.Count(where, " LIKE ?"))

	require.Equal(t, []any{"failed", "pending", "api", since.Unix()}, args[:4])
	require.Len(t, args, 10)
	require.Equal(t, `%50\%\_off%`, args[4])
}
