package runway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTableSQL(t *testing.T) {
	sc := exerciseSchema(t)

	want := "CREATE TABLE IF NOT EXISTS Exercise (" +
		"_id INTEGER PRIMARY KEY AUTOINCREMENT, " +
		"bliss_id TEXT DEFAULT '', " +
		"responses TEXT DEFAULT '', " +
		"score INTEGER DEFAULT 0, " +
		"createTime INTEGER DEFAULT 0, " +
		"updateTime INTEGER DEFAULT 0, " +
		"version_id TEXT DEFAULT '', " +
		"deleted INTEGER DEFAULT 0, " +
		"synced INTEGER DEFAULT 0, " +
		"user_id TEXT DEFAULT '', " +
		"UNIQUE (bliss_id, version_id))"
	assert.Equal(t, want, createTableSQL(sc))

	idx := createIndexSQL(sc)
	require.Len(t, idx, 4)
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS idx_Exercise_updateTime ON Exercise (updateTime)", idx[0])
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS idx_Exercise_bliss_id ON Exercise (bliss_id)", idx[1])
}

func TestInsertSQL_EscapesQuotes(t *testing.T) {
	sc := exerciseSchema(t)
	rec, err := sc.New(map[string]any{
		"bliss_id":  "abc",
		"responses": []any{map[string]any{"bbb": "blah blah blah, ain't no thang"}},
	})
	require.NoError(t, err)

	stmt, err := insertSQL(sc, []Record{rec.WithVersionID("v1")}, "u1", false)
	require.NoError(t, err)

	assert.Contains(t, stmt, "INSERT INTO Exercise (bliss_id, responses, score, createTime, updateTime, version_id, deleted, synced, user_id)")
	assert.Contains(t, stmt, "ain''t")
	assert.Contains(t, stmt, "'v1'")
	assert.Contains(t, stmt, "'u1'")
}

func TestInsertSQL_BatchesAndDefaults(t *testing.T) {
	sc := exerciseSchema(t)
	r1, err := sc.New(map[string]any{"bliss_id": "a"})
	require.NoError(t, err)
	r2, err := sc.New(map[string]any{"bliss_id": "b", "score": 3})
	require.NoError(t, err)

	stmt, err := insertSQL(sc, []Record{r1, r2}, "", true)
	require.NoError(t, err)

	// two value tuples, synced=1 on both
	assert.Contains(t, stmt, "), (")
	assert.Contains(t, stmt, ", 1, '')")
}

func TestFindSQL(t *testing.T) {
	sc := exerciseSchema(t)

	stmt, err := findSQL(sc, Filter{Eq: map[string]any{"score": 5}, OrderBy: FieldUpdateTime}, "u1")
	require.NoError(t, err)

	want := "SELECT * FROM (" +
		"SELECT bliss_id, responses, score, createTime, updateTime, version_id, deleted, max(_id) AS _id " +
		"FROM Exercise WHERE user_id = 'u1' AND score = 5 GROUP BY bliss_id" +
		") WHERE deleted = 0 ORDER BY updateTime ASC"
	assert.Equal(t, want, stmt)

	_, err = findSQL(sc, Filter{Eq: map[string]any{"nope": 1}}, "u1")
	require.ErrorIs(t, err, ErrUnknownField)

	_, err = findSQL(sc, Filter{OrderBy: "nope"}, "u1")
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestExistsAndMarkSyncedSQL(t *testing.T) {
	sc := exerciseSchema(t)

	stmt, err := existsSQL(sc, "o'brien", "u1")
	require.NoError(t, err)
	assert.Equal(t, "SELECT _id FROM Exercise WHERE bliss_id = 'o''brien' AND user_id = 'u1' LIMIT 1", stmt)

	assert.Equal(t,
		"UPDATE Exercise SET synced = 1 WHERE version_id IN ('v1', 'v2')",
		markSyncedSQL(sc, []string{"v1", "v2"}))
}

func TestFormatValue(t *testing.T) {
	lit, err := formatValue(KindJSON, []any{map[string]any{"a": float64(1)}})
	require.NoError(t, err)
	assert.Equal(t, `'[{"a":1}]'`, lit)

	lit, err = formatValue(KindNumber, nil)
	require.NoError(t, err)
	assert.Equal(t, "0", lit)

	_, err = formatValue(KindNumber, "x")
	require.ErrorIs(t, err, ErrBadValue)
}
