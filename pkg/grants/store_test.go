package grants

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonchat/sentinel/pkg/capability"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(nil)
	require.NoError(t, err)
	return s
}

func TestCheckReportsMissingInDeclarationOrder(t *testing.T) {
	s := newStore(t)

	required := capability.NewSet(capability.ShellExecution, capability.FilesystemRead, capability.Network)
	missing := s.Check("conv-1", required)

	require.Equal(t, []capability.Capability{
		capability.FilesystemRead,
		capability.Network,
		capability.ShellExecution,
	}, missing)
}

func TestGrantThenCheck(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Grant("conv-1", capability.NewSet(capability.FilesystemRead, capability.Network), capability.DurationAlways))

	assert.Empty(t, s.Check("conv-1", capability.NewSet(capability.FilesystemRead)))
	assert.Empty(t, s.Check("conv-1", capability.NewSet(capability.Network)))
	assert.Equal(t, []capability.Capability{capability.ShellExecution},
		s.Check("conv-1", capability.NewSet(capability.Network, capability.ShellExecution)))

	// Other conversations are unaffected.
	assert.Len(t, s.Check("conv-2", capability.NewSet(capability.Network)), 1)
}

func TestGrantIsIdempotent(t *testing.T) {
	s := newStore(t)

	caps := capability.NewSet(capability.ProcessSpawn)
	require.NoError(t, s.Grant("c", caps, capability.DurationAlways))
	require.NoError(t, s.Grant("c", caps, capability.DurationAlways))

	assert.Empty(t, s.Check("c", caps))
	assert.Len(t, s.Active("c").Capabilities, 1)
}

func TestOnceGrantConsumedBySuccessfulExecution(t *testing.T) {
	s := newStore(t)

	caps := capability.NewSet(capability.ProcessSpawn)
	require.NoError(t, s.Grant("c", caps, capability.DurationOnce))
	require.Empty(t, s.Check("c", caps))

	s.Consume("c", caps)

	assert.Equal(t, []capability.Capability{capability.ProcessSpawn}, s.Check("c", caps),
		"once grant must be gone after consumption")
}

func TestConsumeLeavesSessionAndAlwaysGrants(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Grant("c", capability.NewSet(capability.FilesystemRead), capability.DurationSession))
	require.NoError(t, s.Grant("c", capability.NewSet(capability.Network), capability.DurationAlways))
	require.NoError(t, s.Grant("c", capability.NewSet(capability.ProcessSpawn), capability.DurationOnce))

	s.Consume("c", capability.NewSet(capability.FilesystemRead, capability.Network, capability.ProcessSpawn))

	assert.Empty(t, s.Check("c", capability.NewSet(capability.FilesystemRead, capability.Network)))
	assert.NotEmpty(t, s.Check("c", capability.NewSet(capability.ProcessSpawn)))
}

func TestConsumeOnlyRemovesUsedCapabilities(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Grant("c", capability.NewSet(capability.FilesystemRead, capability.FilesystemWrite), capability.DurationOnce))

	s.Consume("c", capability.NewSet(capability.FilesystemRead))

	assert.NotEmpty(t, s.Check("c", capability.NewSet(capability.FilesystemRead)))
	assert.Empty(t, s.Check("c", capability.NewSet(capability.FilesystemWrite)),
		"unused once grant must survive")
}

func TestDurationUpgradeNeverWeakens(t *testing.T) {
	s := newStore(t)
	caps := capability.NewSet(capability.Network)

	require.NoError(t, s.Grant("c", caps, capability.DurationAlways))
	require.NoError(t, s.Grant("c", caps, capability.DurationOnce))

	// The Once re-grant must not downgrade the Always grant.
	s.Consume("c", caps)
	assert.Empty(t, s.Check("c", caps))
}

func TestRevoke(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Grant("c", capability.NewSet(capability.Network, capability.ShellExecution), capability.DurationAlways))
	require.NoError(t, s.Revoke("c"))

	assert.Len(t, s.Check("c", capability.NewSet(capability.Network, capability.ShellExecution)), 2)
	assert.Empty(t, s.Active("c").Capabilities)
}

func TestConcurrentGrantCheckConsume(t *testing.T) {
	s := newStore(t)
	caps := capability.NewSet(capability.FilesystemRead)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Grant("c", caps, capability.DurationSession)
			s.Check("c", caps)
			s.Consume("c", caps)
		}()
	}
	wg.Wait()

	// Session grants survive consumption regardless of interleaving.
	assert.Empty(t, s.Check("c", caps))
}

type fakePersister struct {
	mu      sync.Mutex
	saved   map[string][]capability.Capability
	deleted []string
}

func (f *fakePersister) SaveGrant(conv string, caps []capability.Capability, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string][]capability.Capability)
	}
	f.saved[conv] = caps
	return nil
}

func (f *fakePersister) DeleteGrants(conv string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, conv)
	f.deleted = append(f.deleted, conv)
	return nil
}

func (f *fakePersister) LoadGrants() (map[string][]capability.Capability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]capability.Capability, len(f.saved))
	for k, v := range f.saved {
		out[k] = append([]capability.Capability(nil), v...)
	}
	return out, nil
}

func TestAlwaysGrantsPersist(t *testing.T) {
	p := &fakePersister{}

	s1, err := NewStore(p)
	require.NoError(t, err)
	require.NoError(t, s1.Grant("c", capability.NewSet(capability.Network), capability.DurationAlways))
	require.NoError(t, s1.Grant("c", capability.NewSet(capability.FilesystemRead), capability.DurationSession))

	// New store simulates a fresh session: Always survives, Session does not.
	s2, err := NewStore(p)
	require.NoError(t, err)
	assert.Empty(t, s2.Check("c", capability.NewSet(capability.Network)))
	assert.NotEmpty(t, s2.Check("c", capability.NewSet(capability.FilesystemRead)))
}

func TestRevokeDeletesPersistedGrants(t *testing.T) {
	p := &fakePersister{}

	s, err := NewStore(p)
	require.NoError(t, err)
	require.NoError(t, s.Grant("c", capability.NewSet(capability.Network), capability.DurationAlways))
	require.NoError(t, s.Revoke("c"))

	assert.Contains(t, p.deleted, "c")

	s2, err := NewStore(p)
	require.NoError(t, err)
	assert.NotEmpty(t, s2.Check("c", capability.NewSet(capability.Network)))
}
