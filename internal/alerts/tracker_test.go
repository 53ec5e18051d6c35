package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/model"
)

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	base := time.Now()
	for i, id := range []string{"A1", "A2", "A3"} {
		s.Add(Entry{Alert: model.Alert{AlertID: id}, ObservedAt: base.Add(time.Duration(i) * time.Second)})
	}
	list := s.List(0)
	require.Len(t, list, 2)
	assert.Equal(t, "A2", list[0].Alert.AlertID)
	assert.Equal(t, "A3", list[1].Alert.AlertID)

	last := s.List(1)
	require.Len(t, last, 1)
	assert.Equal(t, "A3", last[0].Alert.AlertID)

	assert.Len(t, s.Since(base.Add(2*time.Second)), 1)
	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestTrackerPrimesThenReportsNew(t *testing.T) {
	tr := NewTracker(NewStore(10))
	now := time.Now()

	first := tr.Observe([]model.Alert{{AlertID: "A1"}, {AlertID: "A2"}}, now)
	assert.True(t, first.Empty())
	assert.Equal(t, 2, tr.Store().Len())

	changes := tr.Observe([]model.Alert{
		{AlertID: "A1"},
		{AlertID: "A2", Resolved: true},
		{AlertID: "A3", PatientID: "P1", SeverityLevel: model.SeverityHigh},
	}, now.Add(time.Second))
	require.Len(t, changes.New, 1)
	assert.Equal(t, "A3", changes.New[0].AlertID)
	require.Len(t, changes.Resolved, 1)
	assert.Equal(t, "A2", changes.Resolved[0].AlertID)
	assert.Equal(t, 3, tr.Store().Len())

	again := tr.Observe([]model.Alert{{AlertID: "A1"}, {AlertID: "A2", Resolved: true}, {AlertID: "A3"}}, now.Add(2*time.Second))
	assert.True(t, again.Empty())
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(nil)
	tr.Observe([]model.Alert{{AlertID: "A1"}}, time.Now())
	tr.Reset()
	assert.Equal(t, 0, tr.Store().Len())
	assert.True(t, tr.Observe([]model.Alert{{AlertID: "A9"}}, time.Now()).Empty())
}
