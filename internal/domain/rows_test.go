package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitThinkAnswer(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantThink  *string
		wantAnswer string
	}{
		{name: "no think token", input: "  Paris \n", wantThink: nil, wantAnswer: "Paris"},
		{name: "think prefix", input: "<think>capital of France</think>\n\nParis", wantThink: strPtr("<think>capital of France</think>"), wantAnswer: "Paris"},
		{name: "case insensitive", input: "reasoning</THINK> 42", wantThink: strPtr("reasoning</THINK>"), wantAnswer: "42"},
		{name: "empty answer after think", input: "x</think>", wantThink: strPtr("x</think>"), wantAnswer: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			think, answer := SplitThinkAnswer(tt.input)
			assert.Equal(t, tt.wantAnswer, answer)
			if tt.wantThink == nil {
				assert.Nil(t, think)
				return
			}
			require.NotNil(t, think)
			assert.Equal(t, *tt.wantThink, *think)
		})
	}
}

func TestRowSuccessPredicates(t *testing.T) {
	score := 1.0
	errMsg := "boom"

	assert.True(t, (&Answer{Answer: strPtr("x")}).Succeeded())
	assert.False(t, (&Answer{Answer: strPtr("x"), ErrorMsg: &errMsg}).Succeeded())
	assert.False(t, (&Answer{}).Succeeded())

	assert.True(t, (&Observation{Score: &score}).Succeeded())
	assert.False(t, (&Observation{Score: &score, ErrorMsg: &errMsg}).Succeeded())
	assert.False(t, (&Observation{}).Succeeded())
}

func TestRetrySet(t *testing.T) {
	rs := RetrySet{
		ExperimentIDs:           []int64{3, 1},
		UnfinishedExperimentIDs: []int64{1, 4},
		ResultIDs:               []int64{9},
		UnfinishedResultIDs:     []int64{9},
	}

	require.NoError(t, rs.Validate())
	assert.False(t, rs.IsEmpty())
	assert.Equal(t, []int64{3, 1, 4}, rs.Experiments())
	assert.Equal(t, []int64{9}, rs.Results())

	assert.True(t, (&RetrySet{}).IsEmpty())

	bad := RetrySet{ResultIDs: []int64{0}}
	assert.Error(t, bad.Validate())
}
