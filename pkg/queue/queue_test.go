package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingTaskIgnoresUnknownFields(t *testing.T) {
	// Producers may add fields; consumers must not break.
	payload := []byte(`{
		"job_id": "job-1",
		"tenant_id": "tenant-1",
		"correlation_id": "corr-1",
		"attempt": 2,
		"priority": "high",
		"shard": 7
	}`)

	var task ProcessingTask
	require.NoError(t, json.Unmarshal(payload, &task))
	require.NoError(t, task.Validate())

	assert.Equal(t, "job-1", task.JobID)
	assert.Equal(t, "tenant-1", task.TenantID)
	assert.Equal(t, "corr-1", task.CorrelationID)
	assert.Equal(t, 2, task.Attempt)
}

func TestProcessingTaskValidate(t *testing.T) {
	task := ProcessingTask{JobID: "job-1", TenantID: "tenant-1", Attempt: 1}
	require.NoError(t, task.Validate())

	missing := ProcessingTask{TenantID: "tenant-1", Attempt: 1}
	assert.Error(t, missing.Validate())

	zeroAttempt := ProcessingTask{JobID: "job-1", TenantID: "tenant-1"}
	assert.Error(t, zeroAttempt.Validate())
}
