package core

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "same content produces same ID",
			content: "test content",
		},
		{
			name:    "empty string",
			content: "",
		},
		{
			name:    "long content",
			content: "This is a much longer piece of content that should still hash consistently",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent([]byte(tt.content))
			id2 := IDFromContent([]byte(tt.content))
			assert.Equal(t, id1, id2)
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	id1 := IDFromContent([]byte("content1"))
	id2 := IDFromContent([]byte("content2"))
	assert.NotEqual(t, id1, id2)
}

func TestIDFromContent_Parts(t *testing.T) {
	joined := IDFromContent([]byte("records"), []byte("vectors"))
	concat := IDFromContent([]byte("recordsvectors"))
	assert.Equal(t, concat, joined, "parts hash as a single stream")
}

func TestNewRecord_NormalizesValues(t *testing.T) {
	r := NewRecord(3, map[string]any{
		"title":  "A",
		"price":  12,
		"points": float32(88),
		"rated":  true,
		"bogus":  []int{1},
	})

	assert.Equal(t, 3, r.Index)
	assert.Equal(t, 4, r.Len())

	v, ok := r.Get("price")
	require.True(t, ok)
	assert.Equal(t, float64(12), v)

	_, ok = r.Get("bogus")
	assert.False(t, ok, "unsupported types are dropped")
}

func TestRecord_Accessors(t *testing.T) {
	r := NewRecord(0, map[string]any{
		AttrTitle:   "Chablis 2019",
		AttrCountry: "France",
		AttrVariety: "Chardonnay",
		AttrPrice:   float64(25),
	})

	assert.Equal(t, "Chablis 2019", r.Title())
	assert.Equal(t, "France", r.Country())
	assert.Equal(t, "Chardonnay", r.Variety())

	price, ok := r.Price()
	require.True(t, ok)
	assert.Equal(t, float64(25), price)

	text, ok := r.Text(AttrPrice)
	require.True(t, ok)
	assert.Equal(t, "25", text)
}

func TestRecord_Number(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   float64
		wantOK bool
	}{
		{name: "float", value: 10.5, want: 10.5, wantOK: true},
		{name: "numeric string", value: " 42 ", want: 42, wantOK: true},
		{name: "text", value: "cheap", wantOK: false},
		{name: "bool", value: true, wantOK: false},
		{name: "nan", value: math.NaN(), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecord(0, map[string]any{AttrPrice: tt.value})
			got, ok := r.Number(AttrPrice)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		r := NewRecord(0, nil)
		_, ok := r.Price()
		assert.False(t, ok)
	})
}

func TestRecord_AttributesIsACopy(t *testing.T) {
	r := NewRecord(0, map[string]any{AttrCountry: "Italy"})
	attrs := r.Attributes()
	attrs[AttrCountry] = "Spain"
	assert.Equal(t, "Italy", r.Country())
}

func TestRecord_MarshalJSON(t *testing.T) {
	r := NewRecord(7, map[string]any{AttrTitle: "B", AttrPrice: float64(50)})
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "B", decoded["title"])
	assert.Equal(t, float64(50), decoded["price"])
	assert.Equal(t, float64(7), decoded["_index"])
}

func TestFilterSpec_Excluded(t *testing.T) {
	spec := FilterSpec{Exclude: ExcludeIndices(1, 4)}
	assert.True(t, spec.Excluded(1))
	assert.True(t, spec.Excluded(4))
	assert.False(t, spec.Excluded(2))

	var empty FilterSpec
	assert.False(t, empty.Excluded(0), "nil exclusion set excludes nothing")
}
