package worker

import (
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	"github.com/ahrav/go-evalrun/internal/metrics"
)

type recordingRegistrar struct {
	workflows  []string
	activities []string
}

func funcName(fn any) string {
	name := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	name = name[strings.LastIndex(name, ".")+1:]
	return strings.TrimSuffix(name, "-fm")
}

func (r *recordingRegistrar) RegisterWorkflow(w any) {
	r.workflows = append(r.workflows, funcName(w))
}

func (r *recordingRegistrar) RegisterActivity(a any) {
	r.activities = append(r.activities, funcName(a))
}

func TestRegisterAll(t *testing.T) {
	r := &recordingRegistrar{}
	RegisterAll(r, nil, nil)

	assert.Equal(t, []string{"ReconcileWorkflow"}, r.workflows)
	assert.Equal(t, []string{"ScanRetrySet", "RetryEntities"}, r.activities)
}

func TestInitializeMetrics(t *testing.T) {
	r, err := InitializeMetrics(&fakeGenerator{respond: answerWith("1")}, metrics.DefaultJudgeConfig())
	require.NoError(t, err)

	for _, name := range []string{"output_length", "qcm_exactness", "generation_time", "judge_exactness", "judge_notator"} {
		_, err := r.Get(name)
		assert.NoError(t, err, name)
	}
}

func TestInitializeLLMClient(t *testing.T) {
	client, err := InitializeLLMClient(configuration.DefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.NoError(t, client.Close())
}
