package columns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryworks/querypad/internal/source"
)

func TestNormalize_ScalarColumns(t *testing.T) {
	raw := []source.RawColumn{
		{Name: "Id"},
		{Name: "Name"},
		{Name: "Amount"},
	}

	cols := Normalize(raw, nil)

	require.Len(t, cols, 3)
	assert.Equal(t, "Id", cols[0].Path)
	assert.Equal(t, "Name", cols[1].Path)
	assert.Equal(t, "Amount", cols[2].Path)
	for _, c := range cols {
		assert.Equal(t, KindScalar, c.Kind)
		assert.Equal(t, c.Path, c.Title)
	}
}

func TestNormalize_ParentJoinFlattens(t *testing.T) {
	raw := []source.RawColumn{
		{Name: "Name"},
		{Name: "Owner", Children: []source.RawColumn{
			{Name: "Name"},
			{Name: "Manager", Children: []source.RawColumn{
				{Name: "Email"},
			}},
		}},
	}

	cols := Normalize(raw, nil)

	require.Len(t, cols, 3)
	assert.Equal(t, "Name", cols[0].Path)
	assert.Equal(t, "Owner.Name", cols[1].Path)
	assert.Equal(t, "Owner.Manager.Email", cols[2].Path)
	assert.Equal(t, KindScalar, cols[1].Kind)
	assert.Nil(t, cols[1].Children)
}

func TestNormalize_SubqueryStaysSingleColumn(t *testing.T) {
	raw := []source.RawColumn{
		{Name: "Name"},
		{Name: "Contacts", Aggregate: true, Children: []source.RawColumn{
			{Name: "FirstName"},
			{Name: "LastName"},
		}},
	}

	cols := Normalize(raw, nil)

	require.Len(t, cols, 2)
	sub := cols[1]
	assert.Equal(t, "Contacts", sub.Path)
	assert.Equal(t, KindSubquery, sub.Kind)
	assert.True(t, sub.IsSubquery())

	// Children are preserved verbatim, not flattened or prefixed.
	require.Len(t, sub.Children, 2)
	assert.Equal(t, "FirstName", sub.Children[0].Path)
	assert.Equal(t, "LastName", sub.Children[1].Path)
}

func TestNormalize_AggregateColumn(t *testing.T) {
	raw := []source.RawColumn{
		{Name: "expr0", Aggregate: true},
		{Name: "Industry"},
	}

	cols := Normalize(raw, nil)

	require.Len(t, cols, 2)
	assert.Equal(t, KindAggregate, cols[0].Kind)
	assert.True(t, cols[0].IsAggregate())
	assert.Equal(t, KindScalar, cols[1].Kind)
}

func TestNormalize_DerivedFromSampleRow(t *testing.T) {
	sample := source.Row{
		"Name":               "Acme",
		"Id":                 "001",
		"Amount":             42,
		source.AttributesKey: map[string]any{"type": "Account"},
	}

	cols := Normalize(nil, sample)

	// Derived schema is sorted by key and excludes the envelope key.
	require.Len(t, cols, 3)
	assert.Equal(t, "Amount", cols[0].Path)
	assert.Equal(t, "Id", cols[1].Path)
	assert.Equal(t, "Name", cols[2].Path)
	for _, c := range cols {
		assert.Equal(t, KindScalar, c.Kind)
	}
}

func TestNormalize_EmptyInputs(t *testing.T) {
	assert.Nil(t, Normalize(nil, nil))
	assert.Nil(t, Normalize([]source.RawColumn{}, source.Row{}))
}

func TestNormalize_MetadataWinsOverSample(t *testing.T) {
	raw := []source.RawColumn{{Name: "Name"}}
	sample := source.Row{"Name": "x", "Extra": "y"}

	cols := Normalize(raw, sample)

	require.Len(t, cols, 1)
	assert.Equal(t, "Name", cols[0].Path)
}

func TestHasIdentifier(t *testing.T) {
	tests := []struct {
		name string
		cols []Column
		want bool
	}{
		{
			name: "exact id",
			cols: []Column{{Path: "Id", Kind: KindScalar}},
			want: true,
		},
		{
			name: "case insensitive",
			cols: []Column{{Path: "ID", Kind: KindScalar}},
			want: true,
		},
		{
			name: "joined id does not count",
			cols: []Column{{Path: "Owner.Id", Kind: KindScalar}},
			want: false,
		},
		{
			name: "no id",
			cols: []Column{{Path: "Name", Kind: KindScalar}},
			want: false,
		},
		{
			name: "subquery named id does not count",
			cols: []Column{{Path: "Id", Kind: KindSubquery}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasIdentifier(tt.cols))
		})
	}
}

func TestHasAggregate(t *testing.T) {
	assert.False(t, HasAggregate([]Column{{Path: "Name", Kind: KindScalar}}))
	assert.True(t, HasAggregate([]Column{
		{Path: "Industry", Kind: KindScalar},
		{Path: "expr0", Kind: KindAggregate},
	}))
}
