package repo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/dynaflow/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db          *DB
	flows       *FlowRepo
	tasks       *TaskRepo
	types       *TypeRepo
	maintenance *MaintenanceRepo
	flowType    *domain.FlowType
	taskType    *domain.TaskType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := OpenSQLite(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return fixtureOn(t, db)
}

// fixtureOn мигрирует db и заводит тип flow и тип задачи.
func fixtureOn(t *testing.T, db *DB) *fixture {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	f := &fixture{
		db:          db,
		flows:       NewFlowRepo(db),
		tasks:       NewTaskRepo(db),
		types:       NewTypeRepo(db),
		maintenance: NewMaintenanceRepo(db),
		flowType:    &domain.FlowType{Lookup: domain.FlowTypeSequence, Name: "report", PriorityLevel: 5},
		taskType:    &domain.TaskType{Lookup: domain.TaskTypeNoop, Name: "echo", MaxRetryCount: 2},
	}
	require.NoError(t, f.types.UpsertFlowType(ctx, f.flowType))
	require.NoError(t, f.types.UpsertTaskType(ctx, f.taskType))
	return f
}

func (f *fixture) newFlow(t *testing.T) *domain.Flow {
	t.Helper()
	flow := domain.NewFlow(f.flowType.ID, "subject-1", t0)
	require.NoError(t, f.flows.Create(context.Background(), flow))
	return flow
}

func (f *fixture) buildChain(t *testing.T, flow *domain.Flow, n int) []domain.Task {
	t.Helper()
	ctx := context.Background()

	claimed, err := f.flows.ClaimBuild(ctx, flow.ID, "proc-1", t0)
	require.NoError(t, err)
	require.True(t, claimed)

	tasks := make([]domain.Task, n)
	for i := range tasks {
		tasks[i] = domain.Task{TaskTypeID: f.taskType.ID, RequestedAt: t0, MinStartAt: t0, Param1: "p1", Param2: "p2"}
	}
	require.NoError(t, f.tasks.CreateChain(ctx, flow.ID, "proc-1", tasks))
	return tasks
}

func TestMigrate_Idempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Migrate(context.Background()))
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &DB{dialect: DialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestTypeRepo_UpsertKeepsID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	again := &domain.TaskType{Lookup: domain.TaskTypeNoop, Name: "echo", MaxRetryCount: 7}
	require.NoError(t, f.types.UpsertTaskType(ctx, again))
	assert.Equal(t, f.taskType.ID, again.ID)

	got, err := f.types.GetTaskTypeByName(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, 7, got.MaxRetryCount)

	_, err = f.types.GetFlowType(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlowRepo_ClaimBuildCopiesPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)

	n, err := f.flows.CountBuildable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	claimed, err := f.flows.ClaimBuild(ctx, flow.ID, "proc-1", t0)
	require.NoError(t, err)
	require.True(t, claimed)

	got, err := f.flows.GetByCode(ctx, flow.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStateBuilding, got.State)
	assert.Equal(t, 5, got.PriorityLevel)
	assert.Equal(t, "proc-1", got.TaskCreationProcessorID)

	// второй захват — no-op
	claimed, err = f.flows.ClaimBuild(ctx, flow.ID, "proc-2", t0)
	require.NoError(t, err)
	assert.False(t, claimed)

	again, err := f.flows.GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, "proc-1", again.TaskCreationProcessorID)

	n, err = f.flows.CountBuildable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFlowRepo_BuildDebugNotBuildable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flow := domain.NewFlow(f.flowType.ID, "subject-1", t0)
	flow.IsBuildDebugRequired = true
	require.NoError(t, f.flows.Create(ctx, flow))

	flows, err := f.flows.ListBuildable(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestTaskRepo_CreateChainLinksPredecessors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)
	f.buildChain(t, flow, 3)

	tasks, err := f.tasks.ListByFlow(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, int64(0), tasks[0].PredecessorID)
	assert.Equal(t, tasks[0].ID, tasks[1].PredecessorID)
	assert.Equal(t, tasks[1].ID, tasks[2].PredecessorID)

	got, err := f.flows.GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.True(t, got.TasksCreated)
	assert.Equal(t, domain.FlowStateBuilt, got.State)
}

func TestTaskRepo_CreateChainRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)

	claimed, err := f.flows.ClaimBuild(ctx, flow.ID, "proc-1", t0)
	require.NoError(t, err)
	require.True(t, claimed)

	tasks := []domain.Task{{TaskTypeID: f.taskType.ID, RequestedAt: t0, MinStartAt: t0}}
	err = f.tasks.CreateChain(ctx, flow.ID, "proc-2", tasks)
	require.ErrorIs(t, err, ErrClaimLost)

	created, err := f.tasks.ListByFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Empty(t, created, "rolled back chain must not leave tasks")

	// защёлка одноразовая
	require.NoError(t, f.tasks.CreateChain(ctx, flow.ID, "proc-1", tasks))
	err = f.tasks.CreateChain(ctx, flow.ID, "proc-1", []domain.Task{{TaskTypeID: f.taskType.ID, RequestedAt: t0, MinStartAt: t0}})
	require.ErrorIs(t, err, ErrClaimLost)
}

func TestTaskRepo_RunnableRespectsPredecessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)
	f.buildChain(t, flow, 2)

	runnable, err := f.tasks.ListRunnable(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, runnable, 1)
	assert.Equal(t, 1, runnable[0].Sequence)

	first := runnable[0]
	claimed, err := f.tasks.Claim(ctx, first.ID, "proc-1", t0)
	require.NoError(t, err)
	require.True(t, claimed)

	loaded, err := f.tasks.GetByID(ctx, first.ID)
	require.NoError(t, err)
	loaded.MarkSucceeded("done", t0)
	require.NoError(t, f.tasks.Save(ctx, loaded))

	runnable, err = f.tasks.ListRunnable(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, runnable, 1)
	assert.Equal(t, 2, runnable[0].Sequence)
}

func TestTaskRepo_ClaimIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)
	tasks := f.buildChain(t, flow, 1)

	claimed, err := f.tasks.Claim(ctx, tasks[0].ID, "proc-1", t0)
	require.NoError(t, err)
	require.True(t, claimed)

	before, err := f.tasks.GetByID(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateRunning, before.State)
	assert.Equal(t, 2, before.MaxRetryCount, "max_retry_count is copied from type on claim")

	claimed, err = f.tasks.Claim(ctx, tasks[0].ID, "proc-2", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed)

	after, err := f.tasks.GetByID(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "losing claim must leave all fields unchanged")
}

func TestTaskRepo_ConcurrentClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)
	tasks := f.buildChain(t, flow, 1)

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			ok, err := f.tasks.Claim(ctx, tasks[0].ID, "proc-"+string(rune('a'+i)), t0)
			if err == nil && ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one claimant must win")
}

func TestTaskRepo_ClaimBeforeMinStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)
	tasks := f.buildChain(t, flow, 1)

	claimed, err := f.tasks.Claim(ctx, tasks[0].ID, "proc-1", t0.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestTaskRepo_SaveRejectsCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)
	tasks := f.buildChain(t, flow, 1)

	task, err := f.tasks.GetByID(ctx, tasks[0].ID)
	require.NoError(t, err)
	task.MarkRunning("proc-1", t0)
	task.MarkSucceeded("ok", t0)
	require.NoError(t, f.tasks.Save(ctx, task))

	task.ResultValue = "changed"
	err = f.tasks.Save(ctx, task)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestTaskRepo_RequeueAndOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)
	tasks := f.buildChain(t, flow, 1)

	claimed, err := f.tasks.Claim(ctx, tasks[0].ID, "proc-1", t0)
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := f.tasks.RequeueStalledRuns(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "not stalled yet")

	n, err = f.tasks.ReleaseOrphans(ctx, "proc-other")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = f.tasks.ReleaseOrphans(ctx, "proc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	claimed, err = f.tasks.Claim(ctx, tasks[0].ID, "proc-2", t0)
	require.NoError(t, err)
	require.True(t, claimed)

	n, err = f.tasks.RequeueStalledRuns(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFlowRepo_RequeueStalledBuilds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)

	claimed, err := f.flows.ClaimBuild(ctx, flow.ID, "proc-1", t0)
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := f.flows.RequeueStalledBuilds(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.flows.GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStateRequested, got.State)
	assert.Nil(t, got.TaskCreationStartedAt)
}

func TestTaskRepo_SearchByState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)
	tasks := f.buildChain(t, flow, 2)

	_, err := f.tasks.Claim(ctx, tasks[0].ID, "proc-1", t0)
	require.NoError(t, err)

	running, err := f.tasks.Search(ctx, TaskFilter{ProcessorID: "proc-1", State: domain.TaskStateRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, tasks[0].ID, running[0].ID)

	pending, err := f.tasks.Search(ctx, TaskFilter{State: domain.TaskStatePending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, tasks[1].ID, pending[0].ID)

	_, err = f.tasks.Search(ctx, TaskFilter{State: "BOGUS"})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTaskRepo_ResetReopensFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)
	tasks := f.buildChain(t, flow, 2)

	first, err := f.tasks.GetByID(ctx, tasks[0].ID)
	require.NoError(t, err)
	first.MarkRunning("proc-1", t0)
	first.MarkFailed("boom", t0)
	require.NoError(t, f.tasks.Save(ctx, first))
	_, err = f.tasks.CancelPending(ctx, flow.ID, t0)
	require.NoError(t, err)
	_, err = f.flows.Complete(ctx, flow.ID, domain.FlowStateFailed, "boom", t0)
	require.NoError(t, err)

	reset, err := f.tasks.Reset(ctx, first.Code, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatePending, reset.State)
	assert.Equal(t, 0, reset.RetryCount)

	second, err := f.tasks.GetByID(ctx, tasks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatePending, second.State, "canceled successors are reset too")

	reopened, err := f.flows.GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.False(t, reopened.IsCompleted())

	_, err = f.tasks.Reset(ctx, first.Code, t0)
	assert.ErrorIs(t, err, ErrInvalidState, "pending task cannot be reset")
}

func TestFlowRepo_CompleteOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.newFlow(t)

	ok, err := f.flows.Complete(ctx, flow.ID, domain.FlowStateSucceeded, "", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.flows.Complete(ctx, flow.ID, domain.FlowStateFailed, "late", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.flows.RequestCancel(ctx, flow.Code)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestMaintenanceRepo_ClaimCompareAndSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.maintenance.GetOrCreate(ctx)
	require.NoError(t, err)
	assert.False(t, m.IsStarted)

	// повторный GetOrCreate не создаёт вторую запись
	_, err = f.maintenance.GetOrCreate(ctx)
	require.NoError(t, err)

	ok, err := f.maintenance.Claim(ctx, m, "proc-1", t0)
	require.NoError(t, err)
	require.True(t, ok)

	// захват по устаревшему снимку проигрывает
	ok, err = f.maintenance.Claim(ctx, m, "proc-2", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	claimed, err := f.maintenance.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "proc-1", claimed.ProcessorID)

	claimed.MarkCompleted(t0, time.Hour)
	ok, err = f.maintenance.Complete(ctx, claimed, "proc-1")
	require.NoError(t, err)
	assert.True(t, ok)

	done, err := f.maintenance.Get(ctx)
	require.NoError(t, err)
	assert.True(t, done.IsCompleted)
	require.NotNil(t, done.NextRunAt)
	assert.True(t, done.NextRunAt.Equal(t0.Add(time.Hour)))
}
