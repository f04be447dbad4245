package model

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatistics_ConcurrentIncrements(t *testing.T) {
	s := NewRunStatistics()
	require.NotEmpty(t, s.RunID)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.RecordAttempt(StageResolveURL)
			if i%2 == 0 {
				s.RecordSuccess(StageResolveURL, i%4 == 0)
				return
			}
			s.RecordFailure(StageResolveURL, "g", errors.New("boom"))
		}(i)
	}
	wg.Wait()

	st := s.Stage(StageResolveURL)
	assert.Equal(t, int64(50), st.Attempted())
	assert.Equal(t, int64(25), st.Succeeded())
	assert.Equal(t, int64(25), st.Failed())
	assert.Equal(t, int64(13), st.CacheHits())
	assert.Len(t, s.Errors(), 25)
}

func TestRunStatistics_ErrorCap(t *testing.T) {
	s := NewRunStatistics()
	for i := 0; i < maxRecordedErrors+10; i++ {
		s.RecordFailure(StageGenerateContent, "g", nil)
	}
	snap := s.Snapshot()
	assert.Len(t, snap.Errors, maxRecordedErrors)
	assert.Equal(t, 10, snap.DroppedErrors)
	assert.Equal(t, "no result", snap.Errors[0].Error)
	assert.Equal(t, int64(maxRecordedErrors+10), snap.Stages[StageGenerateContent].Failed)
}

func TestRunStatistics_UnknownStage(t *testing.T) {
	s := NewRunStatistics()
	s.RecordAttempt(Stage("bogus"))
	assert.Equal(t, int64(0), s.Stage(Stage("bogus")).Attempted())
}

func TestRunStatistics_MarshalJSON(t *testing.T) {
	s := NewRunStatistics()
	s.AddRows(3)
	s.AddGroups(1)
	s.IncBatches()
	s.RecordAttempt(StageExtractImages)
	s.RecordSkip(StageExtractImages)
	s.Finish()

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var snap StatsSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, s.RunID, snap.RunID)
	assert.Equal(t, int64(3), snap.Rows)
	assert.Equal(t, int64(1), snap.Groups)
	assert.Equal(t, int64(1), snap.Batches)
	assert.NotNil(t, snap.FinishedAt)
	assert.Equal(t, int64(1), snap.Stages[StageExtractImages].Skipped)
	assert.Len(t, snap.Stages, 3)
}

func TestRunStatistics_FinishDuringSnapshot(t *testing.T) {
	s := NewRunStatistics()
	assert.True(t, s.FinishedAt().IsZero())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = s.Snapshot()
		}
	}()
	go func() {
		defer wg.Done()
		s.Finish()
	}()
	wg.Wait()

	snap := s.Snapshot()
	require.NotNil(t, snap.FinishedAt)
	assert.Equal(t, s.FinishedAt(), *snap.FinishedAt)
	assert.False(t, snap.FinishedAt.Before(s.StartedAt))
}
