package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func TestService_RecordRun(t *testing.T) {
	s := newService(t)
	r := models.Routine{ID: "tea", Name: "Tea"}
	start := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

	st, err := s.Get("tea")
	require.NoError(t, err)
	assert.Equal(t, models.RunStats{RoutineID: "tea"}, st)

	require.NoError(t, s.RecordRun(r, true, start, start.Add(10*time.Minute)))
	require.NoError(t, s.RecordRun(r, false, start, start.Add(20*time.Minute)))

	st, err = s.Get("tea")
	require.NoError(t, err)
	assert.Equal(t, "Tea", st.RoutineName)
	assert.Equal(t, 2, st.Runs)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 1, st.Stopped)
	assert.Equal(t, 15*time.Minute, st.AverageRunTime())
	assert.True(t, st.LastRunAt.Equal(start.Add(20*time.Minute)))
}

func TestService_RecordRunConcurrent(t *testing.T) {
	s := newService(t)
	r := models.Routine{ID: "tea", Name: "Tea"}
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RecordRun(r, true, now, now))
		}()
	}
	wg.Wait()

	st, err := s.Get("tea")
	require.NoError(t, err)
	assert.Equal(t, 10, st.Runs)
}

func TestService_Top(t *testing.T) {
	s := newService(t)
	now := time.Now()
	for i, name := range []string{"Tea", "Roast", "Roast", "Pasta", "Roast", "Pasta"} {
		r := models.Routine{ID: name, Name: name}
		require.NoError(t, s.RecordRun(r, i%2 == 0, now, now))
	}

	top, err := s.Top(2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Roast", top[0].RoutineName)
	assert.Equal(t, 3, top[0].Runs)
	assert.Equal(t, "Pasta", top[1].RoutineName)

	all, err := s.Top(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
