package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonchat/sentinel/pkg/audit"
	"github.com/halcyonchat/sentinel/pkg/capability"
	"github.com/halcyonchat/sentinel/pkg/grants"
	"github.com/halcyonchat/sentinel/pkg/launcher"
	"github.com/halcyonchat/sentinel/pkg/policy"
)

// fakeLauncher returns a canned outcome and records every launch, so
// tests can assert nothing was spawned for blocked/denied requests.
type fakeLauncher struct {
	mu       sync.Mutex
	launches []launcher.Spec
	outcome  *launcher.Outcome
	err      error
	// blockOnCtx makes Launch wait for cancellation, simulating a
	// long-running process.
	blockOnCtx bool
	started    chan struct{}
}

func (f *fakeLauncher) Launch(ctx context.Context, spec launcher.Spec) (*launcher.Outcome, error) {
	f.mu.Lock()
	f.launches = append(f.launches, spec)
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.blockOnCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.outcome != nil {
		out := *f.outcome
		return &out, nil
	}
	return &launcher.Outcome{ExitCode: 0, Duration: time.Millisecond}, nil
}

func (f *fakeLauncher) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launches)
}

type fixture struct {
	broker   *Broker
	grants   *grants.Store
	launcher *fakeLauncher
	audit    *audit.Log
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	engine, err := policy.NewEngine()
	require.NoError(t, err)
	store, err := grants.NewStore(nil)
	require.NoError(t, err)
	fl := &fakeLauncher{}
	log := audit.NewLog(audit.Config{MaxEntries: audit.MinEntries}, nil)
	return &fixture{
		broker:   NewBroker(engine, store, fl, log, nil, opts),
		grants:   store,
		launcher: fl,
		audit:    log,
	}
}

func execErr(t *testing.T, err error) *ExecutionError {
	t.Helper()
	var e *ExecutionError
	require.True(t, errors.As(err, &e), "expected *ExecutionError, got %v", err)
	return e
}

func TestDenialThenApproval(t *testing.T) {
	f := newFixture(t, Options{})
	req := ExecutionRequest{
		ConversationID: "conv-1",
		Language:       capability.LangPython,
		Code:           "import subprocess\nsubprocess.Popen(['true'])",
	}

	result, err := f.broker.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, result)
	e := execErr(t, err)
	assert.Equal(t, KindCapabilityDenied, e.Kind)
	assert.Equal(t, capability.ProcessSpawn, e.Denied)
	assert.True(t, e.Retryable())
	assert.Equal(t, 0, f.launcher.launchCount(), "denied request must not spawn")

	require.NoError(t, f.broker.Approve("conv-1", capability.NewSet(capability.ProcessSpawn), capability.DurationOnce))

	result, err = f.broker.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.True(t, result.CapabilitiesUsed.Has(capability.ProcessSpawn))

	// The Once grant was consumed by the successful run.
	missing := f.grants.Check("conv-1", capability.NewSet(capability.ProcessSpawn))
	assert.Equal(t, []capability.Capability{capability.ProcessSpawn}, missing)
}

func TestBlockedShellDespiteGrants(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.grants.Grant("conv-1",
		capability.NewSet(capability.ShellExecution, capability.FilesystemWrite),
		capability.DurationSession))

	_, err := f.broker.Execute(context.Background(), ExecutionRequest{
		ConversationID: "conv-1",
		Language:       capability.LangShell,
		Code:           "sudo rm -rf /tmp/*",
	})
	e := execErr(t, err)
	assert.Equal(t, KindDangerousCommand, e.Kind)
	require.NotNil(t, e.Block)
	assert.Contains(t, e.Error(), "blocked by")
	assert.False(t, e.Retryable())
	assert.Equal(t, 0, f.launcher.launchCount(), "blocked command must never execute")
}

func TestTimeoutSurfacesNoPartialResult(t *testing.T) {
	f := newFixture(t, Options{})
	f.launcher.outcome = &launcher.Outcome{
		TimedOut: true,
		ExitCode: -1,
		Stdout:   []byte("partial"),
	}

	result, err := f.broker.Execute(context.Background(), ExecutionRequest{
		ConversationID: "conv-1",
		Language:       capability.LangPython,
		Code:           "print('hi')",
		Timeout:        time.Second,
	})
	assert.Nil(t, result, "timeout discards partial output")
	e := execErr(t, err)
	assert.Equal(t, KindTimeout, e.Kind)

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventExecutionTimeout, entries[0].EventType)
}

func TestCompletedResultRedactedAndFlagged(t *testing.T) {
	f := newFixture(t, Options{})
	f.launcher.outcome = &launcher.Outcome{
		ExitCode:        0,
		Stdout:          []byte("key is sk-ant-REDACTED done"),
		StderrTruncated: true,
	}

	result, err := f.broker.Execute(context.Background(), ExecutionRequest{
		ConversationID: "conv-1",
		Language:       capability.LangPython,
		Code:           "print('x')",
	})
	require.NoError(t, err)
	assert.NotContains(t, result.Stdout, "sk-ant-REDACTED")
	assert.Contains(t, result.Stdout, "[REDACTED]")
	assert.True(t, result.SecretsDetected)
	assert.True(t, result.WasTruncated)
}

func TestOnceGrantSurvivesFailedRun(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.grants.Grant("conv-1",
		capability.NewSet(capability.ProcessSpawn), capability.DurationOnce))

	f.launcher.outcome = &launcher.Outcome{ExitCode: 1}
	result, err := f.broker.Execute(context.Background(), ExecutionRequest{
		ConversationID: "conv-1",
		Language:       capability.LangPython,
		Code:           "import subprocess",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)

	// Non-zero exit is not a successful execution; the grant stays.
	assert.Empty(t, f.grants.Check("conv-1", capability.NewSet(capability.ProcessSpawn)))
}

func TestExactlyOneAuditEntryPerTerminalState(t *testing.T) {
	f := newFixture(t, Options{})

	// Blocked.
	_, _ = f.broker.Execute(context.Background(), ExecutionRequest{
		ConversationID: "c", Language: capability.LangShell, Code: "sudo ls",
	})
	// Denied.
	_, _ = f.broker.Execute(context.Background(), ExecutionRequest{
		ConversationID: "c", Language: capability.LangPython, Code: "import subprocess",
	})
	// Completed.
	_, err := f.broker.Execute(context.Background(), ExecutionRequest{
		ConversationID: "c", Language: capability.LangPython, Code: "print(1)",
	})
	require.NoError(t, err)

	entries := f.audit.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, audit.EventExecutionBlocked, entries[0].EventType)
	assert.Equal(t, audit.EventExecutionDenied, entries[1].EventType)
	assert.Equal(t, audit.EventExecutionCompleted, entries[2].EventType)
}

func TestCancelAll(t *testing.T) {
	f := newFixture(t, Options{})
	f.launcher.blockOnCtx = true
	f.launcher.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.broker.Execute(context.Background(), ExecutionRequest{
			ConversationID: "c", Language: capability.LangPython, Code: "print(1)",
		})
		done <- err
	}()

	<-f.launcher.started
	assert.Equal(t, 1, f.broker.CancelAll())

	err := <-done
	e := execErr(t, err)
	assert.Equal(t, KindProcessFailure, e.Kind)
	assert.Contains(t, e.Error(), "cancelled")

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventExecutionCancelled, entries[0].EventType)
}

func TestCancelUnknownRequest(t *testing.T) {
	f := newFixture(t, Options{})
	assert.False(t, f.broker.Cancel("no-such-request"))
}

func TestStrictCapabilitiesDeniesUndetected(t *testing.T) {
	f := newFixture(t, Options{StrictCapabilities: true})

	// Nothing is detected in this fragment, but strict mode requires the
	// language's whole potential set.
	_, err := f.broker.Execute(context.Background(), ExecutionRequest{
		ConversationID: "c", Language: capability.LangPython, Code: "print(1)",
	})
	e := execErr(t, err)
	assert.Equal(t, KindCapabilityDenied, e.Kind)
	assert.Equal(t, capability.FilesystemRead, e.Denied, "first missing in declaration order")
}

func TestProcessFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.launcher.err = errors.New("exec: \"python3\": executable file not found")

	_, err := f.broker.Execute(context.Background(), ExecutionRequest{
		ConversationID: "c", Language: capability.LangPython, Code: "print(1)",
	})
	e := execErr(t, err)
	assert.Equal(t, KindProcessFailure, e.Kind)
	assert.Contains(t, e.Error(), "not found")

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventExecutionFailed, entries[0].EventType)
}

func TestRevokeGrantsAudited(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.broker.Approve("c", capability.NewSet(capability.Network), capability.DurationSession))
	require.NoError(t, f.broker.RevokeGrants("c"))

	missing := f.grants.Check("c", capability.NewSet(capability.Network))
	assert.Len(t, missing, 1)

	entries := f.audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, audit.EventGrantIssued, entries[0].EventType)
	assert.Equal(t, audit.EventGrantRevoked, entries[1].EventType)
}
