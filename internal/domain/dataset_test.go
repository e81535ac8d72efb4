package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataset_LinesAndExpectedTotal(t *testing.T) {
	t.Run("full range without sample", func(t *testing.T) {
		d := &Dataset{Name: "d", Size: 3, Rows: make([]map[string]any, 3)}
		assert.Equal(t, []int{0, 1, 2}, d.Lines())
		assert.Equal(t, 3, d.ExpectedTotal())
	})

	t.Run("sample replaces the range", func(t *testing.T) {
		d := &Dataset{Name: "d", Size: 10, Sample: []int{7, 2, 5}}
		assert.Equal(t, []int{7, 2, 5}, d.Lines())
		assert.Equal(t, 3, d.ExpectedTotal())
	})

	t.Run("lines is a copy of the sample", func(t *testing.T) {
		d := &Dataset{Name: "d", Size: 10, Sample: []int{1}}
		lines := d.Lines()
		lines[0] = 9
		assert.Equal(t, []int{1}, d.Sample)
	})
}

func TestDataset_Row(t *testing.T) {
	d := &Dataset{
		ID:         1,
		Name:       "qa",
		Size:       2,
		Rows:       []map[string]any{{"question": "a?", "answer": "A"}, {"question": "b?", "answer": 2}},
		ColumnsMap: map[string]string{"query": "question", "output_true": "answer"},
	}

	row, err := d.Row(1)
	require.NoError(t, err)
	assert.Equal(t, "b?", row["query"])

	got, ok := RowString(row, "output_true")
	assert.True(t, ok)
	assert.Equal(t, "2", got)

	_, ok = RowString(row, "missing")
	assert.False(t, ok)

	row["query"] = "mutated"
	again, err := d.Row(1)
	require.NoError(t, err)
	assert.Equal(t, "b?", again["query"], "Row must return a copy")

	_, err = d.Row(2)
	assert.ErrorIs(t, err, ErrLineOutOfRange)
}

func TestDataset_Validate(t *testing.T) {
	d := &Dataset{Name: "d", Size: 3, Sample: []int{0, 3}}
	assert.ErrorIs(t, d.Validate(), ErrLineOutOfRange)

	d.Sample = []int{0, 2}
	assert.NoError(t, d.Validate())

	d.Name = ""
	assert.Error(t, d.Validate())
}
