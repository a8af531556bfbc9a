package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTransitions(t *testing.T) {
	j := &Job{Status: JobPending}

	require.NoError(t, j.Transition(JobRunning))
	assert.Equal(t, JobRunning, j.Status)
	assert.NotNil(t, j.StartedAt)

	require.NoError(t, j.Transition(JobCompleted))
	assert.Equal(t, JobCompleted, j.Status)
	assert.NotNil(t, j.CompletedAt)
}

func TestJobIllegalTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
	}{
		{JobPending, JobCompleted},
		{JobPending, JobFailed},
		{JobRunning, JobPending},
		{JobCompleted, JobRunning},
		{JobCompleted, JobFailed},
		{JobFailed, JobRunning},
		{JobFailed, JobCompleted},
	}
	for _, c := range cases {
		j := &Job{Status: c.from}
		assert.Error(t, j.Transition(c.to), "%s -> %s must be rejected", c.from, c.to)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
}
