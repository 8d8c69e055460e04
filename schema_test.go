package runway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseSchema(t *testing.T) *Schema {
	t.Helper()
	sc, err := Define("Exercise", []Field{
		{Name: "bliss_id", Kind: KindText},
		{Name: "responses", Kind: KindJSON},
		{Name: "score", Kind: KindNumber},
	}, DefineOptions{BusinessKey: "bliss_id"})
	require.NoError(t, err)
	return sc
}

func TestDefine_RequiresBusinessKey(t *testing.T) {
	_, err := Define("Exercise", []Field{{Name: "bliss_id", Kind: KindText}}, DefineOptions{})
	require.ErrorIs(t, err, ErrNoBusinessKey)

	_, err = Define("Exercise", []Field{{Name: "bliss_id", Kind: KindText}},
		DefineOptions{BusinessKey: "nope"})
	require.ErrorIs(t, err, ErrNoBusinessKey)
}

func TestDefine_RejectsBadIdentifiers(t *testing.T) {
	_, err := Define("Exercise;DROP", nil, DefineOptions{BusinessKey: "id"})
	require.ErrorIs(t, err, ErrBadIdentifier)

	_, err = Define("Exercise", []Field{{Name: "bad name", Kind: KindText}},
		DefineOptions{BusinessKey: "bad name"})
	require.ErrorIs(t, err, ErrBadIdentifier)
}

func TestDefine_RejectsReservedAndDuplicateFields(t *testing.T) {
	_, err := Define("Exercise", []Field{
		{Name: "bliss_id", Kind: KindText},
		{Name: "synced", Kind: KindNumber},
	}, DefineOptions{BusinessKey: "bliss_id"})
	require.ErrorIs(t, err, ErrReservedField)

	_, err = Define("Exercise", []Field{
		{Name: "bliss_id", Kind: KindText},
		{Name: "bliss_id", Kind: KindText},
	}, DefineOptions{BusinessKey: "bliss_id"})
	require.ErrorIs(t, err, ErrDuplicateField)
}

func TestDefine_InjectsBookkeepingFields(t *testing.T) {
	sc := exerciseSchema(t)

	kinds := make(map[string]Kind)
	for _, f := range sc.Definition() {
		kinds[f.Name] = f.Kind
	}
	assert.Equal(t, KindNumber, kinds[FieldCreateTime])
	assert.Equal(t, KindNumber, kinds[FieldUpdateTime])
	assert.Equal(t, KindText, kinds[FieldClassTag])
	assert.Equal(t, KindText, kinds[FieldVersionID])
	assert.Equal(t, "bliss_id", sc.BusinessKey())
}

func TestDefine_AcceptsDeclaredBookkeepingFields(t *testing.T) {
	sc, err := Define("Exercise", []Field{
		{Name: "bliss_id", Kind: KindText},
		{Name: FieldCreateTime, Kind: KindNumber},
		{Name: FieldUpdateTime, Kind: KindNumber},
	}, DefineOptions{BusinessKey: "bliss_id"})
	require.NoError(t, err)
	assert.Len(t, sc.Definition(), 5)

	_, err = Define("Exercise", []Field{
		{Name: "bliss_id", Kind: KindText},
		{Name: FieldCreateTime, Kind: KindText},
	}, DefineOptions{BusinessKey: "bliss_id"})
	require.Error(t, err)
}

func TestNew_InjectsDefaults(t *testing.T) {
	sc := exerciseSchema(t)

	rec, err := sc.New(map[string]any{"responses": []any{}})
	require.NoError(t, err)

	assert.Equal(t, "Exercise", rec.Get(FieldClassTag))
	assert.NotEmpty(t, rec.BusinessKey(), "business key should be auto-generated")
	assert.NotZero(t, rec.Get(FieldCreateTime))
	assert.NotZero(t, rec.Get(FieldUpdateTime))
	assert.Empty(t, rec.VersionID(), "version id is assigned at persistence time")
}

func TestNew_RejectsUnknownFieldsAndBadKinds(t *testing.T) {
	sc := exerciseSchema(t)

	_, err := sc.New(map[string]any{"nope": 1})
	require.ErrorIs(t, err, ErrUnknownField)

	_, err = sc.New(map[string]any{"score": "high"})
	require.ErrorIs(t, err, ErrBadValue)

	_, err = sc.New(map[string]any{"score": 1.9})
	require.ErrorIs(t, err, ErrBadValue, "fractional numbers must not be truncated silently")

	rec, err := sc.New(map[string]any{"score": 2.0})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Get("score"))

	_, err = sc.New(map[string]any{FieldClassTag: "Other"})
	require.ErrorIs(t, err, ErrBadValue)
}
