package query

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/pipeflow/types"
)

var fixedNow = time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC)

func TestExpand_UserParameterWinsOverBuiltin(t *testing.T) {
	q := "SELECT * FROM t WHERE d > {{today}}"

	out, err := Expand(q, map[string]string{"today": "2020-01-01"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE d > 2020-01-01", out)

	out, err = Expand(q, nil, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE d > '2024-05-17'", out)
}

func TestExpand_SpacesAndRepeats(t *testing.T) {
	out, err := Expand("SELECT {{ col }}, {{col}} FROM {{  table }}", map[string]string{"col": "a", "table": "t"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "SELECT a, a FROM t", out)
	assert.True(t, Usable(out))
}

func TestExpand_UnknownTag(t *testing.T) {
	_, err := Expand("SELECT * FROM {{ missing }}", nil, fixedNow)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUserFatal))
	assert.Contains(t, err.Error(), "missing")
}

func TestTags(t *testing.T) {
	assert.Equal(t, []string{"a", "today"}, Tags("{{a}} {{ today }} {{a}}"))
	assert.Empty(t, Tags("SELECT 1"))
}

func TestSubstitutePositional(t *testing.T) {
	out, err := SubstitutePositional("SELECT * FROM $1 WHERE x = $2 OR y = $1", []string{"t", "'v'"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE x = 'v' OR y = t", out)

	_, err = SubstitutePositional("SELECT $1, $3", []string{"a", "b"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidUserArgument))

	_, err = SubstitutePositional("SELECT $1", []string{"a", "b"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidUserArgument))
}

func TestChain(t *testing.T) {
	out, err := Chain([]string{
		"SELECT * FROM customers;",
		"SELECT id FROM $ WHERE active",
		"SELECT count(*) FROM $",
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(*) FROM (SELECT id FROM (SELECT * FROM customers) WHERE active)", out)

	_, err = Chain([]string{"SELECT 1", "SELECT 2"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidUserArgument))

	_, err = Chain(nil)
	assert.Error(t, err)
}

func TestChain_DoesNotResubstitutePreviousPlaceholders(t *testing.T) {
	out, err := Chain([]string{"SELECT * FROM t WHERE x = $1", "SELECT * FROM $"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM (SELECT * FROM t WHERE x = $1)", out)
	assert.False(t, Usable(out))
}

func TestPrepare(t *testing.T) {
	out, err := Prepare([]string{"SELECT * FROM t WHERE x = $1", "SELECT count(*) FROM $"}, []string{"5"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(*) FROM (SELECT * FROM t WHERE x = 5)", out)
	assert.True(t, Usable(out))

	_, err = Prepare([]string{"SELECT $1"}, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidUserArgument))

	out, err = Prepare([]string{"SELECT {{ today }}"}, nil)
	require.NoError(t, err)
	assert.False(t, Usable(out))
}

func TestBound(t *testing.T) {
	assert.True(t, Bound("SELECT * FROM t WHERE d > {{ today }}"))
	assert.False(t, Bound("SELECT * FROM t WHERE id > $1"))
	assert.False(t, Bound("SELECT count(*) FROM $"))

	q, err := Prepare([]string{"SELECT * FROM t WHERE id > $1", "SELECT count(*) FROM $"}, []string{"5"})
	require.NoError(t, err)
	assert.True(t, Bound(q))
}

func TestUsable_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 0, 5, rapid.ID[string]).Draw(t, "names")
		params := make(map[string]string, len(names))
		var b strings.Builder
		b.WriteString("SELECT * FROM t WHERE 1=1")
		for _, n := range names {
			params[n] = rapid.StringMatching(`[0-9]{1,4}`).Draw(t, n)
			b.WriteString(" AND " + n + " = {{ " + n + " }}")
		}

		out, err := Expand(b.String(), params, fixedNow)
		if err != nil {
			t.Fatalf("expand: %v", err)
		}
		if !Usable(out) {
			t.Fatalf("expanded query still has placeholders: %s", out)
		}
		if strings.Contains(out, "{{") {
			t.Fatalf("tag left in %s", out)
		}
	})
}
