package align

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/mealie"
	"github.com/mealie-tools/recipe-dredger/internal/state"
)

type fakeLibrary struct {
	mu        sync.Mutex
	recipes   []mealie.Recipe
	deleted   []string
	backupErr error
	backups   int
}

func (f *fakeLibrary) ListRecipes(ctx context.Context, perPage int) ([]mealie.Recipe, error) {
	return f.recipes, nil
}

func (f *fakeLibrary) Delete(ctx context.Context, id, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, slug)
	return nil
}

func (f *fakeLibrary) Backup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backups++
	return f.backupErr
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	backend, err := state.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store, err := state.Open(context.Background(), backend, 1000, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestAligner(t *testing.T, library Library, store *state.Store, opts Options) *Aligner {
	t.Helper()
	a := New(library, store, opts, zap.NewNop())
	a.stdin = strings.NewReader("")
	return a
}

func seedImport(store *state.Store, url, host string) {
	store.MarkImported(url, host, "")
}

func TestDiffScoping(t *testing.T) {
	// Baseline {a,b,c}, current {a,b}: only c's records are candidates.
	// Records on d (never in the baseline) stay untouched.
	store := newTestStore(t)
	seedImport(store, "https://a.example/pie", "a.example")
	seedImport(store, "https://c.example/stew", "c.example")
	seedImport(store, "https://d.example/cake", "d.example")

	a := newTestAligner(t, &fakeLibrary{}, store, Options{})
	plan, err := a.BuildPlan(context.Background(),
		[]string{"https://a.example", "https://b.example"},
		[]string{"a.example", "b.example", "c.example"})
	if err != nil {
		t.Fatal(err)
	}

	if len(plan.RemovedHosts) != 1 || plan.RemovedHosts[0] != "c.example" {
		t.Errorf("removed hosts = %v, want [c.example]", plan.RemovedHosts)
	}
	if len(plan.Candidates) != 1 || plan.Candidates[0].Host != "c.example" {
		t.Errorf("candidates = %+v, want exactly the c.example record", plan.Candidates)
	}
}

func TestSubdomainsFollowTheirParentHost(t *testing.T) {
	store := newTestStore(t)
	seedImport(store, "https://blog.c.example/stew", "blog.c.example")

	a := newTestAligner(t, &fakeLibrary{}, store, Options{})
	plan, err := a.BuildPlan(context.Background(),
		[]string{"https://a.example"},
		[]string{"a.example", "c.example"})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Candidates) != 1 {
		t.Fatalf("candidates = %+v, want the subdomain record", plan.Candidates)
	}
}

func TestImplicitBaselineFromSnapshot(t *testing.T) {
	store := newTestStore(t)
	store.SaveHostSnapshot([]string{"a.example", "c.example"})
	seedImport(store, "https://c.example/stew", "c.example")

	a := newTestAligner(t, &fakeLibrary{}, store, Options{})
	plan, err := a.BuildPlan(context.Background(), []string{"https://a.example"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Candidates) != 1 {
		t.Errorf("candidates = %+v, want 1 from snapshot diff", plan.Candidates)
	}
}

func TestNoBaselineMeansNoPruning(t *testing.T) {
	store := newTestStore(t)
	seedImport(store, "https://c.example/stew", "c.example")

	a := newTestAligner(t, &fakeLibrary{}, store, Options{})
	plan, err := a.BuildPlan(context.Background(), []string{"https://a.example"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Candidates) != 0 {
		t.Errorf("candidates = %+v, want none without a baseline", plan.Candidates)
	}
}

func TestPruneOutsideCurrentIgnoresBaseline(t *testing.T) {
	store := newTestStore(t)
	seedImport(store, "https://d.example/cake", "d.example")

	a := newTestAligner(t, &fakeLibrary{}, store, Options{PruneOutsideCurrent: true})
	plan, err := a.BuildPlan(context.Background(), []string{"https://a.example"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Candidates) != 1 {
		t.Errorf("candidates = %+v, want the out-of-list record", plan.Candidates)
	}
}

func TestMissingSourceExcludedByDefault(t *testing.T) {
	store := newTestStore(t)
	seedImport(store, "https://unknown/pie", "")

	a := newTestAligner(t, &fakeLibrary{}, store, Options{})
	plan, err := a.BuildPlan(context.Background(),
		[]string{"https://a.example"}, []string{"a.example"})
	if err != nil {
		t.Fatal(err)
	}
	if plan.MissingSource != 1 {
		t.Errorf("missing source count = %d, want 1", plan.MissingSource)
	}
	if len(plan.Candidates) != 0 {
		t.Errorf("candidates = %+v, want none", plan.Candidates)
	}

	a = newTestAligner(t, &fakeLibrary{}, store, Options{IncludeMissingSource: true})
	plan, err = a.BuildPlan(context.Background(),
		[]string{"https://a.example"}, []string{"a.example"})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Candidates) != 1 {
		t.Errorf("candidates = %+v, want the missing-source record", plan.Candidates)
	}
}

func TestApplyDeletesFromLibraryAndStore(t *testing.T) {
	store := newTestStore(t)
	seedImport(store, "https://c.example/stew", "c.example")
	library := &fakeLibrary{recipes: []mealie.Recipe{
		{ID: "42", Slug: "beef-stew", Name: "Beef Stew", OrgURL: "https://c.example/stew"},
	}}

	a := newTestAligner(t, library, store, Options{AssumeYes: true})
	plan, err := a.BuildPlan(context.Background(),
		[]string{"https://a.example"}, []string{"a.example", "c.example"})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Candidates) != 1 || !plan.Candidates[0].InLibrary {
		t.Fatalf("plan = %+v", plan.Candidates)
	}

	report, err := a.Apply(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 1 || report.RecordsRemoved != 1 {
		t.Errorf("report = %+v, want deleted=1 records_removed=1", report)
	}
	if len(library.deleted) != 1 || library.deleted[0] != "beef-stew" {
		t.Errorf("library deletions = %v", library.deleted)
	}
	if store.IsImported("https://c.example/stew") {
		t.Error("import record survived apply")
	}
}

func TestDryRunApplyKeepsLocalRecords(t *testing.T) {
	store := newTestStore(t)
	seedImport(store, "https://c.example/stew", "c.example")
	library := &fakeLibrary{recipes: []mealie.Recipe{
		{ID: "42", Slug: "beef-stew", Name: "Beef Stew", OrgURL: "https://c.example/stew"},
	}}

	a := newTestAligner(t, library, store, Options{AssumeYes: true, DryRun: true})
	plan, err := a.BuildPlan(context.Background(),
		[]string{"https://a.example"}, []string{"a.example", "c.example"})
	if err != nil {
		t.Fatal(err)
	}
	report, err := a.Apply(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if report.RecordsRemoved != 0 {
		t.Errorf("records removed = %d in a dry run", report.RecordsRemoved)
	}
	if !store.IsImported("https://c.example/stew") {
		t.Error("dry-run apply erased the import record")
	}
}

func TestApplyRemovesOrphanedRecords(t *testing.T) {
	// Record exists locally but the library listing no longer has it.
	store := newTestStore(t)
	seedImport(store, "https://c.example/stew", "c.example")

	a := newTestAligner(t, &fakeLibrary{}, store, Options{AssumeYes: true})
	plan, err := a.BuildPlan(context.Background(),
		[]string{"https://a.example"}, []string{"c.example"})
	if err != nil {
		t.Fatal(err)
	}
	report, err := a.Apply(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 0 || report.RecordsRemoved != 1 {
		t.Errorf("report = %+v, want deleted=0 records_removed=1", report)
	}
}

func TestBackupFailureAbortsApply(t *testing.T) {
	store := newTestStore(t)
	seedImport(store, "https://c.example/stew", "c.example")
	library := &fakeLibrary{
		recipes:   []mealie.Recipe{{ID: "42", Slug: "beef-stew", OrgURL: "https://c.example/stew"}},
		backupErr: errors.New("disk full"),
	}

	a := newTestAligner(t, library, store, Options{AssumeYes: true, Backup: true})
	plan, err := a.BuildPlan(context.Background(),
		[]string{"https://a.example"}, []string{"c.example"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Apply(context.Background(), plan); err == nil {
		t.Fatal("apply proceeded past a failed backup")
	}
	if len(library.deleted) != 0 {
		t.Error("deletions ran despite backup failure")
	}
	if !store.IsImported("https://c.example/stew") {
		t.Error("record removed despite backup failure")
	}
}

func TestConfirmationDeclineLeavesEverything(t *testing.T) {
	store := newTestStore(t)
	seedImport(store, "https://c.example/stew", "c.example")
	library := &fakeLibrary{recipes: []mealie.Recipe{
		{ID: "42", Slug: "beef-stew", OrgURL: "https://c.example/stew"},
	}}

	a := newTestAligner(t, library, store, Options{})
	a.stdin = strings.NewReader("n\n")
	plan, err := a.BuildPlan(context.Background(),
		[]string{"https://a.example"}, []string{"c.example"})
	if err != nil {
		t.Fatal(err)
	}
	report, err := a.Apply(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 0 || report.RecordsRemoved != 0 {
		t.Errorf("report = %+v, want no work after decline", report)
	}
	if !store.IsImported("https://c.example/stew") {
		t.Error("decline still removed the record")
	}
}

func TestHosts(t *testing.T) {
	got := Hosts([]string{
		"https://www.A.example/",
		"https://a.example/recipes",
		"https://b.example",
		"not a url",
	})
	want := []string{"a.example", "b.example"}
	if len(got) != len(want) {
		t.Fatalf("Hosts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Hosts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
