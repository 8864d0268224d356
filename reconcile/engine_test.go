package reconcile_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/mnemo/conversations"
	"github.com/aschepis/backscratcher/mnemo/llm"
	"github.com/aschepis/backscratcher/mnemo/llm/llmtest"
	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/aschepis/backscratcher/mnemo/memory/memtest"
	"github.com/aschepis/backscratcher/mnemo/migrations"
	"github.com/aschepis/backscratcher/mnemo/reconcile"
	"github.com/rs/zerolog"
)

const testDims = 256

type fixture struct {
	repo     memory.Repository
	embedder *memtest.HashEmbedder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := migrations.OpenDatabase(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() }) //nolint:errcheck // test cleanup
	repo := memory.NewSQLiteStore(db, memory.DefaultCollection, testDims, zerolog.Nop())
	if err := repo.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	return &fixture{repo: repo, embedder: memtest.NewHashEmbedder(testDims)}
}

func (f *fixture) engine(client llm.Client) *reconcile.Engine {
	return f.engineWithRepo(client, f.repo)
}

func (f *fixture) engineWithRepo(client llm.Client, repo memory.Repository) *reconcile.Engine {
	cfg := reconcile.DefaultConfig()
	cfg.RetryInterval = time.Millisecond
	return reconcile.NewEngine(client, f.embedder, repo, cfg, zerolog.Nop())
}

func (f *fixture) seed(t *testing.T, owner, text string, categories ...string) memory.Record {
	t.Helper()
	vec, err := memory.EmbedOne(context.Background(), f.embedder, text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	stored, err := f.repo.Insert(context.Background(), []memory.Record{{
		OwnerID: owner, Text: text, Categories: categories, Embedding: vec,
	}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return stored[0]
}

func (f *fixture) candidates(t *testing.T, owner string) *memory.CandidateSet {
	t.Helper()
	records, err := f.repo.ListOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("ListOwner: %v", err)
	}
	memories := make([]memory.RetrievedMemory, 0, len(records))
	for _, r := range records {
		memories = append(memories, memory.RetrievedMemory{Record: r, Score: 1})
	}
	return memory.NewCandidateSet(memories)
}

func (f *fixture) list(t *testing.T, owner string) []memory.Record {
	t.Helper()
	records, err := f.repo.ListOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("ListOwner: %v", err)
	}
	return records
}

func turn(user, assistant string) []conversations.Message {
	return []conversations.Message{
		{Role: conversations.RoleUser, Content: user},
		{Role: conversations.RoleAssistant, Content: assistant},
	}
}

func args(kv ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func TestTokyoToOsakaScenario(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("c1", reconcile.ToolAddMemory, args(
			"memory_text", "User lives in Tokyo",
			"categories", []interface{}{"location"},
		)),
		llmtest.Text("Added home city"),
	)
	out, err := f.engine(client).SearchAndReconcile(ctx, "u1", turn("I live in Tokyo.", "Tokyo is lovely!"), nil)
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if !out.Completed || len(out.Applied) != 1 || out.Applied[0].Action.Kind() != reconcile.KindAdd {
		t.Fatalf("turn 1 outcome = %+v", out)
	}
	before := f.list(t, "u1")
	if len(before) != 1 || before[0].Text != "User lives in Tokyo" {
		t.Fatalf("after turn 1: %+v", before)
	}
	oldID := before[0].PointID

	client = llmtest.NewScriptedClient(
		llmtest.ToolCall("c2", reconcile.ToolUpdateMemory, args(
			"memory_id", float64(0),
			"updated_memory_text", "User lives in Osaka",
			"categories", []interface{}{"location"},
		)),
		llmtest.Text("Updated home city"),
	)
	out, err = f.engine(client).SearchAndReconcile(ctx, "u1",
		turn("Actually I moved. I live in Osaka now.", "Got it."), []string{"location"})
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if len(out.Applied) != 1 || out.Applied[0].Action.Kind() != reconcile.KindUpdate {
		t.Fatalf("turn 2 outcome = %+v", out)
	}

	// the decision step must have seen the Tokyo record as memory_id 0
	reqs := client.Requests()
	first := reqs[0].Messages[0].Content[0].Text
	if !strings.Contains(first, `"memory_id": 0`) || !strings.Contains(first, "User lives in Tokyo") {
		t.Errorf("prompt did not present the Tokyo candidate:\n%s", first)
	}

	after := f.list(t, "u1")
	if len(after) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(after))
	}
	if !strings.Contains(after[0].Text, "Osaka") {
		t.Errorf("record text = %q, want Osaka", after[0].Text)
	}
	if after[0].PointID == oldID {
		t.Error("old point id still resolves")
	}
	facet, err := f.repo.FacetCategories(ctx, "u1", memory.DefaultFacetLimit)
	if err != nil {
		t.Fatalf("FacetCategories: %v", err)
	}
	if len(facet) != 1 || facet[0] != "location" {
		t.Errorf("facet = %v, want [location]", facet)
	}
}

func TestIdempotentNoop(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "u1", "User prefers tea", "preferences")

	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("c1", reconcile.ToolNoop, nil),
		llmtest.Text("Already known"),
	)
	out, err := f.engine(client).SearchAndReconcile(ctx, "u1", turn("I prefer tea.", "Noted."), []string{"preferences"})
	if err != nil {
		t.Fatalf("SearchAndReconcile: %v", err)
	}
	if out.Mutated() {
		t.Errorf("NOOP must not mutate: %+v", out)
	}
	if out.Summary != "Already known" || !out.Completed {
		t.Errorf("summary = %q completed = %v", out.Summary, out.Completed)
	}
	if got := f.list(t, "u1"); len(got) != 1 {
		t.Errorf("expected 1 record, got %d", len(got))
	}
}

func TestTransientIndexIsScopedToItsCandidateSet(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "u1", "User owns a cat", "pets")
	f.seed(t, "u1", "User owns a dog", "pets")

	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("c1", reconcile.ToolDeleteMemories, args("memory_ids", []interface{}{float64(1)})),
		llmtest.Text("done"),
	)
	// index 1 was valid in a two-element set, but this call only has one
	single := memory.NewCandidateSet(f.candidates(t, "u1").Memories[:1])
	out, err := f.engine(client).Reconcile(ctx, reconcile.Input{
		OwnerID:    "u1",
		Messages:   turn("The dog is gone.", "Sorry."),
		Candidates: single,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(out.Rejected) != 1 || !errors.Is(out.Rejected[0].Err, memory.ErrUnknownMemoryIndex) {
		t.Fatalf("expected UnknownMemoryIndex rejection, got %+v", out.Rejected)
	}
	if len(f.list(t, "u1")) != 2 {
		t.Error("rejected delete must not remove records")
	}

	// the rejection is reported back to the model as an error result
	reqs := client.Requests()
	last := reqs[len(reqs)-1].Messages
	result := last[len(last)-1].Content[0].ToolResult
	if result == nil || !result.IsError {
		t.Errorf("expected error tool result, got %+v", last[len(last)-1])
	}
}

func TestIterationCapKeepsAppliedActions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	var steps []llmtest.Step
	for i, text := range []string{"User likes jazz", "User likes chess", "User likes hiking", "User likes sushi"} {
		steps = append(steps, llmtest.ToolCall(string(rune('a'+i)), reconcile.ToolAddMemory,
			args("memory_text", text, "categories", []interface{}{"hobbies"})))
	}
	client := llmtest.NewScriptedClient(steps...)

	out, err := f.engine(client).Reconcile(ctx, reconcile.Input{OwnerID: "u1", Messages: turn("I like lots of things", "Cool")})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.Completed {
		t.Error("loop should not report completion at the cap")
	}
	if out.Iterations != reconcile.DefaultMaxIterations {
		t.Errorf("iterations = %d, want %d", out.Iterations, reconcile.DefaultMaxIterations)
	}
	if got := len(f.list(t, "u1")); got != reconcile.DefaultMaxIterations {
		t.Errorf("expected %d records to remain, got %d", reconcile.DefaultMaxIterations, got)
	}
	if client.Remaining() != 1 {
		t.Errorf("expected one unused step, got %d", client.Remaining())
	}
	if !strings.Contains(out.Describe(), "without completion") {
		t.Errorf("Describe() = %q", out.Describe())
	}
}

func TestOnlyFirstToolCallPerRoundIsApplied(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	client := llmtest.NewScriptedClient(
		llmtest.ToolCalls(
			llm.ToolUseBlock{ID: "a", Name: reconcile.ToolAddMemory, Input: args("memory_text", "User is a nurse", "categories", []interface{}{"work"})},
			llm.ToolUseBlock{ID: "b", Name: reconcile.ToolAddMemory, Input: args("memory_text", "User works nights", "categories", []interface{}{"work"})},
		),
		llmtest.Text("Saved job"),
	)
	out, err := f.engine(client).Reconcile(ctx, reconcile.Input{OwnerID: "u1", Messages: turn("I'm a night nurse", "Wow")})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(out.Applied) != 1 || len(out.Rejected) != 1 {
		t.Fatalf("applied=%d rejected=%d, want 1/1", len(out.Applied), len(out.Rejected))
	}
	if got := f.list(t, "u1"); len(got) != 1 || got[0].Text != "User is a nurse" {
		t.Errorf("records = %+v", got)
	}
}

func TestMalformedActionIsRejectedAndLoopContinues(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("a", reconcile.ToolAddMemory, args("categories", []interface{}{"x"})),
		llmtest.ToolCall("b", reconcile.ToolAddMemory, args("memory_text", "User speaks French", "categories", []interface{}{"languages"})),
		llmtest.Text("Saved language"),
	)
	out, err := f.engine(client).Reconcile(ctx, reconcile.Input{OwnerID: "u1", Messages: turn("Je parle français", "Très bien")})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(out.Rejected) != 1 || !errors.Is(out.Rejected[0].Err, reconcile.ErrInvalidAction) {
		t.Errorf("rejected = %+v", out.Rejected)
	}
	if !out.Completed || len(out.Applied) != 1 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestUpdatedIndexCannotBeUpdatedAgain(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "u1", "User lives in Tokyo", "location")

	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("a", reconcile.ToolUpdateMemory, args(
			"memory_id", float64(0), "updated_memory_text", "User lives in Osaka", "categories", []interface{}{"location"},
		)),
		llmtest.ToolCall("b", reconcile.ToolUpdateMemory, args(
			"memory_id", float64(0), "updated_memory_text", "User lives in Kyoto", "categories", []interface{}{"location"},
		)),
		llmtest.Text("Updated home city"),
	)
	out, err := f.engine(client).Reconcile(ctx, reconcile.Input{
		OwnerID:    "u1",
		Messages:   turn("I moved to Osaka", "Nice"),
		Candidates: f.candidates(t, "u1"),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(out.Applied) != 1 || len(out.Rejected) != 1 {
		t.Fatalf("applied=%d rejected=%d, want 1/1", len(out.Applied), len(out.Rejected))
	}
	if !errors.Is(out.Rejected[0].Err, memory.ErrUnknownMemoryIndex) {
		t.Errorf("second update should be rejected as unknown index, got %v", out.Rejected[0].Err)
	}
	var stale *memory.StaleMemoryIndexError
	if !errors.As(out.Rejected[0].Err, &stale) || stale.Index != 0 {
		t.Errorf("expected stale index 0, got %v", out.Rejected[0].Err)
	}
	got := f.list(t, "u1")
	if len(got) != 1 || got[0].Text != "User lives in Osaka" {
		t.Fatalf("records = %+v, want only the first replacement", got)
	}

	reqs := client.Requests()
	last := reqs[len(reqs)-1].Messages
	result := last[len(last)-1].Content[0].ToolResult
	if result == nil || !result.IsError {
		t.Errorf("expected error tool result, got %+v", last[len(last)-1])
	}
}

func TestUpdatedIndexCannotBeDeleted(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "u1", "User drinks coffee", "preferences")
	f.seed(t, "u1", "User owns a bike", "assets")

	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("a", reconcile.ToolUpdateMemory, args(
			"memory_id", float64(0), "updated_memory_text", "User drinks tea", "categories", []interface{}{"preferences"},
		)),
		llmtest.ToolCall("b", reconcile.ToolDeleteMemories, args("memory_ids", []interface{}{float64(1), float64(0)})),
		llmtest.Text("done"),
	)
	candidates := f.candidates(t, "u1")
	out, err := f.engine(client).Reconcile(ctx, reconcile.Input{
		OwnerID:    "u1",
		Messages:   turn("I drink tea now", "OK"),
		Candidates: candidates,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(out.Rejected) != 1 || !errors.Is(out.Rejected[0].Err, memory.ErrUnknownMemoryIndex) {
		t.Fatalf("expected stale index rejection, got %+v", out.Rejected)
	}
	got := f.list(t, "u1")
	if len(got) != 2 {
		t.Fatalf("rejected delete must not remove anything, records = %+v", got)
	}
	texts := got[0].Text + "|" + got[1].Text
	if !strings.Contains(texts, "User drinks tea") || !strings.Contains(texts, "User owns a bike") {
		t.Errorf("records = %+v", got)
	}
}

func TestUpdateEmbeddingFailureKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	old := f.seed(t, "u1", "User drinks coffee", "preferences")

	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("a", reconcile.ToolUpdateMemory, args(
			"memory_id", float64(0), "updated_memory_text", "User drinks tea", "categories", []interface{}{"preferences"},
		)),
	)
	engine := reconcile.NewEngine(client, memtest.FailingEmbedder{Dims: testDims}, f.repo, reconcile.DefaultConfig(), zerolog.Nop())
	out, err := engine.Reconcile(ctx, reconcile.Input{
		OwnerID:    "u1",
		Messages:   turn("I switched to tea", "Nice"),
		Candidates: f.candidates(t, "u1"),
	})
	if !errors.Is(err, memory.ErrEmbedding) {
		t.Fatalf("expected embedding error, got %v", err)
	}
	if errors.Is(err, memory.ErrPartialMutation) {
		t.Error("nothing was mutated, so this is not a partial mutation")
	}
	if out.Mutated() || len(out.Applied) != 0 {
		t.Errorf("outcome = %+v", out)
	}
	if got := f.list(t, "u1"); len(got) != 1 || got[0].PointID != old.PointID {
		t.Errorf("original record should survive, records = %+v", got)
	}
}

// flakyRepo fails selected operations of an otherwise working repository.
type flakyRepo struct {
	memory.Repository
	failInsert  bool
	failDeletes map[string]bool
	// insertsBeforeFailure, when positive, lets that many inserts through
	// and fails every later one.
	insertsBeforeFailure int
	inserts              int
}

func (r *flakyRepo) Insert(ctx context.Context, records []memory.Record) ([]memory.Record, error) {
	r.inserts++
	if r.failInsert || (r.insertsBeforeFailure > 0 && r.inserts > r.insertsBeforeFailure) {
		return nil, memory.NewStorageError("flaky", "insert", errors.New("connection refused"))
	}
	return r.Repository.Insert(ctx, records)
}

func (r *flakyRepo) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if r.failDeletes[id] {
			return memory.NewStorageError("flaky", "delete", errors.New("connection refused"))
		}
	}
	return r.Repository.Delete(ctx, ids)
}

func TestUpdateLosingReplacementIsPartialMutation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	old := f.seed(t, "u1", "User drinks coffee", "preferences")
	repo := &flakyRepo{Repository: f.repo, failInsert: true}

	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("a", reconcile.ToolUpdateMemory, args(
			"memory_id", float64(0), "updated_memory_text", "User drinks tea", "categories", []interface{}{"preferences"},
		)),
	)
	out, err := f.engineWithRepo(client, repo).Reconcile(ctx, reconcile.Input{
		OwnerID:    "u1",
		Messages:   turn("I switched to tea", "Nice"),
		Candidates: f.candidates(t, "u1"),
	})
	if !errors.Is(err, memory.ErrPartialMutation) {
		t.Fatalf("expected partial mutation, got %v", err)
	}
	var pm *memory.PartialMutationError
	if !errors.As(err, &pm) || len(pm.Succeeded) != 1 || !strings.Contains(pm.Succeeded[0], old.PointID) {
		t.Errorf("partial mutation should name the completed delete: %+v", pm)
	}
	if !errors.Is(err, memory.ErrStorageUnavailable) {
		t.Error("cause should still be visible")
	}
	if out == nil || !out.Mutated() {
		t.Errorf("outcome should record the delete that happened: %+v", out)
	}
}

func TestBatchedDeletePartialFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.seed(t, "u1", "User has a boat", "assets")
	b := f.seed(t, "u1", "User has a car", "assets")
	repo := &flakyRepo{Repository: f.repo, failDeletes: map[string]bool{b.PointID: true}}

	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("a", reconcile.ToolDeleteMemories, args("memory_ids", []interface{}{float64(0), float64(1)})),
	)
	out, err := f.engineWithRepo(client, repo).Reconcile(ctx, reconcile.Input{
		OwnerID:    "u1",
		Messages:   turn("I sold the boat and the car", "OK"),
		Candidates: f.candidates(t, "u1"),
	})
	var pm *memory.PartialMutationError
	if !errors.As(err, &pm) {
		t.Fatalf("expected PartialMutationError, got %v", err)
	}
	if len(pm.Succeeded) != 1 || pm.Succeeded[0] != a.PointID || len(pm.Failed) != 1 || pm.Failed[0] != b.PointID {
		t.Errorf("partial = %+v", pm)
	}
	if len(out.Applied) != 1 || len(out.Applied[0].Removed) != 1 {
		t.Errorf("outcome = %+v", out)
	}
	if got := f.list(t, "u1"); len(got) != 1 || got[0].PointID != b.PointID {
		t.Errorf("remaining = %+v", got)
	}
}

func TestLaterStorageFailureKeepsEarlierActions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	repo := &flakyRepo{Repository: f.repo, insertsBeforeFailure: 1}

	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("a", reconcile.ToolAddMemory, args("memory_text", "User plays piano", "categories", []interface{}{"hobbies"})),
		llmtest.ToolCall("b", reconcile.ToolAddMemory, args("memory_text", "User plays violin", "categories", []interface{}{"hobbies"})),
		llmtest.Text("unreachable"),
	)
	out, err := f.engineWithRepo(client, repo).Reconcile(ctx, reconcile.Input{
		OwnerID:  "u1",
		Messages: turn("I play piano and violin", "Lovely"),
	})
	if !errors.Is(err, memory.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	if errors.Is(err, memory.ErrPartialMutation) {
		t.Error("the failing action changed nothing, so it is not a partial mutation")
	}
	if out == nil || len(out.Applied) != 1 || out.Applied[0].Action.Kind() != reconcile.KindAdd {
		t.Fatalf("outcome should keep the first add: %+v", out)
	}
	if out.Iterations != 2 || out.Completed {
		t.Errorf("iterations=%d completed=%v, want 2/false", out.Iterations, out.Completed)
	}
	if len(out.Rejected) != 1 {
		t.Errorf("rejected = %+v", out.Rejected)
	}
	if got := f.list(t, "u1"); len(got) != 1 || got[0].Text != "User plays piano" {
		t.Errorf("records = %+v", got)
	}
	if client.Remaining() != 1 {
		t.Errorf("loop should stop at the failure, remaining = %d", client.Remaining())
	}
}

func TestEmbeddingFailureAbortsWithoutState(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	client := llmtest.NewScriptedClient(
		llmtest.ToolCall("a", reconcile.ToolAddMemory, args("memory_text", "User is left handed", "categories", []interface{}{"traits"})),
	)
	engine := reconcile.NewEngine(client, memtest.FailingEmbedder{Dims: testDims}, f.repo, reconcile.DefaultConfig(), zerolog.Nop())

	out, err := engine.Reconcile(ctx, reconcile.Input{OwnerID: "u1", Messages: turn("I'm left handed", "Cool")})
	if !errors.Is(err, memory.ErrEmbedding) {
		t.Fatalf("expected embedding error, got %v", err)
	}
	if out.Mutated() {
		t.Error("nothing should be applied")
	}
	if len(f.list(t, "u1")) != 0 {
		t.Error("no record should exist")
	}
}

func TestDecisionRetriesOnlyRetryableErrors(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	client := llmtest.NewScriptedClient(
		llmtest.Fail(llm.NewNetworkError("reset", errors.New("eof"))),
		llmtest.Text("Nothing new"),
	)
	out, err := f.engine(client).Reconcile(ctx, reconcile.Input{OwnerID: "u1", Messages: turn("hi", "hello")})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !out.Completed || out.Summary != "Nothing new" {
		t.Errorf("outcome = %+v", out)
	}

	client = llmtest.NewScriptedClient(
		llmtest.Fail(llm.NewInvalidRequestError("bad", 400, nil)),
		llmtest.Text("unreachable"),
	)
	if _, err := f.engine(client).Reconcile(ctx, reconcile.Input{OwnerID: "u1", Messages: turn("hi", "hello")}); err == nil {
		t.Fatal("expected non-retryable error to surface")
	}
	if client.Remaining() != 1 {
		t.Errorf("non-retryable errors must not be retried, remaining = %d", client.Remaining())
	}
}

func TestDecisionHonoursRetryAfter(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	wait := 40 * time.Millisecond
	client := llmtest.NewScriptedClient(
		llmtest.Fail(llm.NewRateLimitError("slow down", &wait, nil)),
		llmtest.Text("Nothing new"),
	)
	start := time.Now()
	out, err := f.engine(client).Reconcile(ctx, reconcile.Input{OwnerID: "u1", Messages: turn("hi", "hello")})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if elapsed := time.Since(start); elapsed < wait {
		t.Errorf("retried after %v, provider asked for %v", elapsed, wait)
	}
	if !out.Completed || len(client.Requests()) != 2 {
		t.Errorf("outcome = %+v, requests = %d", out, len(client.Requests()))
	}
}

func TestOversizedDecisionShrinksWindow(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	var msgs []conversations.Message
	for _, q := range []string{"question a", "question b", "question c"} {
		msgs = append(msgs, turn(q, "answer")...)
	}

	client := llmtest.NewScriptedClient(
		llmtest.Fail(llm.NewRequestTooLargeError("too many tokens", nil)),
		llmtest.Text("nothing"),
	)
	out, err := f.engine(client).Reconcile(ctx, reconcile.Input{OwnerID: "u1", Messages: msgs})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !out.Completed || out.Iterations != 1 {
		t.Errorf("outcome = %+v", out)
	}
	reqs := client.Requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	first := reqs[0].Messages[0].Content[0].Text
	second := reqs[1].Messages[0].Content[0].Text
	if !strings.Contains(first, "question a") {
		t.Error("first request should carry the full window")
	}
	if strings.Contains(second, "question a") || !strings.Contains(second, "question c") {
		t.Errorf("second request should keep only the newest messages:\n%s", second)
	}
	if len(reqs[1].Messages) != 1 {
		t.Errorf("shrunk request should restart the transcript, got %d messages", len(reqs[1].Messages))
	}
}

func TestOversizedDecisionGivesUpOnSingleMessage(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	client := llmtest.NewScriptedClient(
		llmtest.Fail(llm.NewRequestTooLargeError("too many tokens", nil)),
		llmtest.Text("unreachable"),
	)
	msgs := []conversations.Message{{Role: conversations.RoleUser, Content: "a very long message"}}
	_, err := f.engine(client).Reconcile(ctx, reconcile.Input{OwnerID: "u1", Messages: msgs})
	if !llm.IsRequestTooLargeError(err) {
		t.Fatalf("expected request too large, got %v", err)
	}
	if client.Remaining() != 1 {
		t.Errorf("oversized requests must not be resent unchanged, remaining = %d", client.Remaining())
	}
}

func TestWindowCapsMessages(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	var msgs []conversations.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, turn("question "+string(rune('a'+i)), "answer")...)
	}

	client := llmtest.NewScriptedClient(llmtest.Text("nothing"))
	if _, err := f.engine(client).Reconcile(ctx, reconcile.Input{OwnerID: "u1", Messages: msgs}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	prompt := client.Requests()[0].Messages[0].Content[0].Text
	if strings.Contains(prompt, "question a") {
		t.Error("messages outside the window reached the decision step")
	}
	if !strings.Contains(prompt, "question j") {
		t.Error("latest message missing from the prompt")
	}
}

func TestSearchAndReconcileNeedsUserMessage(t *testing.T) {
	f := setup(t)
	_, err := f.engine(llmtest.NewScriptedClient()).SearchAndReconcile(context.Background(), "u1",
		[]conversations.Message{{Role: conversations.RoleAssistant, Content: "hello"}}, nil)
	if !errors.Is(err, reconcile.ErrNoUserMessage) {
		t.Fatalf("expected ErrNoUserMessage, got %v", err)
	}
}
