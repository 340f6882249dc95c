package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/repo"
)

type fixture struct {
	maintenance *repo.MaintenanceRepo
	flows       *repo.FlowRepo
	tasks       *repo.TaskRepo
	types       *repo.TypeRepo
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := repo.OpenSQLite(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	return &fixture{
		maintenance: repo.NewMaintenanceRepo(db),
		flows:       repo.NewFlowRepo(db),
		tasks:       repo.NewTaskRepo(db),
		types:       repo.NewTypeRepo(db),
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) scheduler(processorID string) *Scheduler {
	return New(Config{
		MaintenanceRepo: f.maintenance,
		FlowRepo:        f.flows,
		TaskRepo:        f.tasks,
		TypeRepo:        f.types,
		ProcessorID:     processorID,
		Now:             func() time.Time { return f.now },
	})
}

func (f *fixture) recurringType(t *testing.T, cronExpr string) *domain.FlowType {
	t.Helper()
	ft := &domain.FlowType{
		Lookup:         domain.FlowTypeSequence,
		Name:           "nightly",
		Definition:     []byte(`{"steps":[{"task_type":"step"}]}`),
		CronExpr:       cronExpr,
		DefaultSubject: "ALL",
	}
	require.NoError(t, f.types.UpsertFlowType(context.Background(), ft))
	return ft
}

func TestNextDue(t *testing.T) {
	from := time.Date(2026, 3, 1, 11, 50, 0, 0, time.UTC)

	next, err := NextDue("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), next)

	next, err = NextDue("0 3 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), next)

	_, err = NextDue("not a cron", from)
	assert.Error(t, err)
}

func TestValidateFlowTypes(t *testing.T) {
	types := []domain.FlowType{
		{Name: "manual"},
		{Name: "hourly", CronExpr: "0 * * * *"},
		{Name: "broken", CronExpr: "61 * * * *"},
	}

	err := ValidateFlowTypes(types)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.NotContains(t, err.Error(), "hourly")

	assert.NoError(t, ValidateFlowTypes(types[:2]))
}

func TestRequestKey(t *testing.T) {
	due := time.Unix(1772366400, 0)
	assert.Equal(t, "7_1772366400", RequestKey(7, due))
}

func TestRequestScheduledFlows_OncePerInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.scheduler("proc-1")

	ran, err := s.RequestScheduledFlows(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	m, err := f.maintenance.Get(ctx)
	require.NoError(t, err)
	assert.False(t, m.IsStarted)
	assert.True(t, m.IsCompleted)
	require.NotNil(t, m.NextRunAt)
	assert.Equal(t, f.now.Add(domain.DefaultMaintenanceInterval), *m.NextRunAt)

	// Второй вызов: следующий проход ещё не наступил
	ran, err = s.RequestScheduledFlows(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	// Другой процессор тоже не проходит
	ran, err = f.scheduler("proc-2").RequestScheduledFlows(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	f.now = f.now.Add(domain.DefaultMaintenanceInterval)
	ran, err = f.scheduler("proc-2").RequestScheduledFlows(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRequestScheduledFlows_BusyAndRecoverOwn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// proc-1 захватил запись и упал
	m, err := f.maintenance.GetOrCreate(ctx)
	require.NoError(t, err)
	claimed, err := f.maintenance.Claim(ctx, m, "proc-1", f.now)
	require.NoError(t, err)
	require.True(t, claimed)

	f.now = f.now.Add(10 * time.Minute)

	ran, err := f.scheduler("proc-2").RequestScheduledFlows(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "another processor's run is within grace")

	ran, err = f.scheduler("proc-1").RequestScheduledFlows(ctx)
	require.NoError(t, err)
	assert.True(t, ran, "own unfinished run is recovered")

	m, err = f.maintenance.Get(ctx)
	require.NoError(t, err)
	assert.True(t, m.IsCompleted)
	assert.Equal(t, "proc-1", m.ProcessorID)
}

func TestRequestScheduledFlows_GraceExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.maintenance.GetOrCreate(ctx)
	require.NoError(t, err)
	claimed, err := f.maintenance.Claim(ctx, m, "proc-1", f.now)
	require.NoError(t, err)
	require.True(t, claimed)

	f.now = f.now.Add(2 * time.Hour)

	ran, err := f.scheduler("proc-2").RequestScheduledFlows(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRequestScheduledFlows_RecurringIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ft := f.recurringType(t, "*/15 * * * *")

	// Первый проход: from = now - 30m, срабатывание 11:45
	ran, err := f.scheduler("proc-1").RequestScheduledFlows(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	due := time.Date(2026, 3, 1, 11, 45, 0, 0, time.UTC)
	flow, err := f.flows.GetByRequestKey(ctx, ft.ID, RequestKey(ft.ID, due))
	require.NoError(t, err)
	assert.Equal(t, "ALL", flow.SubjectCode)
	assert.Equal(t, domain.FlowStateRequested, flow.State)

	// Повтор с тем же from не создаёт дубликат
	s := f.scheduler("proc-1")
	created, err := s.requestRecurring(ctx, f.now.Add(-domain.DefaultMaintenanceInterval), f.now)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	flows, err := f.flows.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, flows, 1)
}

func TestRequestScheduledFlows_NotDueYet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.recurringType(t, "0 3 * * *")

	ran, err := f.scheduler("proc-1").RequestScheduledFlows(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	flows, err := f.flows.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestRequestScheduledFlows_RequeuesStalledBuilds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ft := f.recurringType(t, "")

	stalled := domain.NewFlow(ft.ID, "S-1", f.now)
	require.NoError(t, f.flows.Create(ctx, stalled))
	claimed, err := f.flows.ClaimBuild(ctx, stalled.ID, "dead-proc", f.now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)

	fresh := domain.NewFlow(ft.ID, "S-2", f.now)
	require.NoError(t, f.flows.Create(ctx, fresh))
	claimed, err = f.flows.ClaimBuild(ctx, fresh.ID, "live-proc", f.now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	ran, err := f.scheduler("proc-1").RequestScheduledFlows(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	got, err := f.flows.GetByID(ctx, stalled.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TaskCreationStartedAt)

	got, err = f.flows.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.TaskCreationStartedAt)
}

func TestReclaimOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ft := f.recurringType(t, "")

	own := domain.NewFlow(ft.ID, "S-1", f.now)
	require.NoError(t, f.flows.Create(ctx, own))
	claimed, err := f.flows.ClaimBuild(ctx, own.ID, "proc-1", f.now)
	require.NoError(t, err)
	require.True(t, claimed)

	other := domain.NewFlow(ft.ID, "S-2", f.now)
	require.NoError(t, f.flows.Create(ctx, other))
	claimed, err = f.flows.ClaimBuild(ctx, other.ID, "proc-2", f.now)
	require.NoError(t, err)
	require.True(t, claimed)

	builds, runs, err := f.scheduler("proc-1").ReclaimOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), builds)
	assert.Equal(t, int64(0), runs)

	got, err := f.flows.GetByID(ctx, own.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TaskCreationStartedAt)

	got, err = f.flows.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.TaskCreationStartedAt)
}
