package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaiseAssignsIDAndTimestamp(t *testing.T) {
	s := NewAlertStore(nil)

	id := s.Raise(Alert{
		Type:     AlertPromptInjection,
		Severity: LevelHigh,
		Message:  "injection phrasing in prompt",
	})
	require.NotEmpty(t, id)

	a, ok := s.Get(id)
	require.True(t, ok)
	assert.False(t, a.Timestamp.IsZero())
	assert.False(t, a.IsAcknowledged)
}

func TestAcknowledge(t *testing.T) {
	s := NewAlertStore(nil)
	id := s.Raise(Alert{Type: AlertCredentialExfil, Severity: LevelCritical, Message: "m"})

	require.NoError(t, s.Acknowledge(id))

	a, _ := s.Get(id)
	assert.True(t, a.IsAcknowledged)
	assert.Equal(t, 0, s.Unacknowledged())

	assert.Error(t, s.Acknowledge("nope"))
}

func TestClear(t *testing.T) {
	s := NewAlertStore(nil)
	id1 := s.Raise(Alert{Type: AlertObfuscation, Severity: LevelMedium, Message: "a"})
	id2 := s.Raise(Alert{Type: AlertDataExfil, Severity: LevelHigh, Message: "b"})

	require.NoError(t, s.Clear(id1))

	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, id2, active[0].ID)

	assert.Error(t, s.Clear(id1), "clearing twice should fail")
}

func TestActivePreservesRaiseOrder(t *testing.T) {
	s := NewAlertStore(nil)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, s.Raise(Alert{Type: AlertPromptInjection, Severity: LevelMedium, Message: "m"}))
	}

	active := s.Active()
	require.Len(t, active, 5)
	for i, a := range active {
		assert.Equal(t, ids[i], a.ID)
	}
}

func TestAtLeastFiltersBySeverity(t *testing.T) {
	s := NewAlertStore(nil)
	s.Raise(Alert{Type: AlertObfuscation, Severity: LevelLow, Message: "low"})
	hi := s.Raise(Alert{Type: AlertCredentialExfil, Severity: LevelCritical, Message: "crit"})
	s.Raise(Alert{Type: AlertPromptInjection, Severity: LevelMedium, Message: "med"})

	got := s.AtLeast(LevelHigh)
	require.Len(t, got, 1)
	assert.Equal(t, hi, got[0].ID)

	assert.Len(t, s.AtLeast(LevelNone), 3)
}

func TestRaisePublishes(t *testing.T) {
	pub := &capturingPublisher{}
	s := NewAlertStore(pub)

	s.Raise(Alert{Type: AlertDestructiveIntent, Severity: LevelHigh, Message: "m"})

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, SubjectAlert, pub.subjects[0])
}

func TestAlertMutationDoesNotLeakThroughCopies(t *testing.T) {
	s := NewAlertStore(nil)
	id := s.Raise(Alert{Type: AlertPromptInjection, Severity: LevelMedium, Message: "m"})

	before, _ := s.Get(id)
	require.NoError(t, s.Acknowledge(id))

	assert.False(t, before.IsAcknowledged, "previously returned copy must not change")
	after, _ := s.Get(id)
	assert.True(t, after.IsAcknowledged)
}
