package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/mnemo/conversations"
	"github.com/aschepis/backscratcher/mnemo/llm/llmtest"
	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/aschepis/backscratcher/mnemo/memory/memtest"
	"github.com/aschepis/backscratcher/mnemo/migrations"
	"github.com/aschepis/backscratcher/mnemo/reconcile"
	"github.com/aschepis/backscratcher/mnemo/retrieval"
	"github.com/aschepis/backscratcher/mnemo/session"
	"github.com/rs/zerolog"
)

const testDims = 256

func setupRegistry(t *testing.T, decider *llmtest.ScriptedClient) *Registry {
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
	emb := memtest.NewHashEmbedder(testDims)
	rcfg := reconcile.DefaultConfig()
	rcfg.RetryInterval = time.Millisecond
	engine := reconcile.NewEngine(decider, emb, repo, rcfg, zerolog.Nop())
	o := session.New(retrieval.NewAssembler(emb, repo, zerolog.Nop()), engine, repo,
		conversations.NewStore(db, zerolog.Nop()), session.DefaultConfig(), zerolog.Nop())

	reg := NewRegistry(zerolog.Nop())
	reg.RegisterMemoryTools(o)
	return reg
}

func call(t *testing.T, reg *Registry, tool, owner string, args map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	result, err := reg.Handle(context.Background(), tool, owner, raw)
	if err != nil {
		t.Fatalf("%s returned error: %v", tool, err)
	}
	out, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("%s returned %T", tool, result)
	}
	return out
}

func TestMemoryToolsRoundTrip(t *testing.T) {
	decider := llmtest.NewScriptedClient(
		llmtest.ToolCall("a", reconcile.ToolAddMemory, map[string]interface{}{
			"memory_text": "User runs every morning",
			"categories":  []interface{}{"habits"},
		}),
		llmtest.Text("Saved habit"),
	)
	reg := setupRegistry(t, decider)

	res := call(t, reg, "memory_remember", "u1", map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": "I go running every morning"},
			{"role": "assistant", "content": "Great habit!"},
		},
	})
	if !strings.HasPrefix(res["summary"].(string), "Saved habit") {
		t.Errorf("summary = %v", res["summary"])
	}

	res = call(t, reg, "memory_search", "", map[string]any{"owner_id": "u1", "query": "does the user runs every morning"})
	mems := res["memories"].([]string)
	if len(mems) != 1 || !strings.Contains(mems[0], "User runs every morning (Categories: habits)") {
		t.Errorf("memories = %v", mems)
	}

	res = call(t, reg, "memory_categories", "u1", nil)
	if cats := res["categories"].([]string); len(cats) != 1 || cats[0] != "habits" {
		t.Errorf("categories = %v", cats)
	}

	call(t, reg, "memory_forget_all", "u1", nil)
	res = call(t, reg, "memory_categories", "u1", nil)
	if cats := res["categories"].([]string); len(cats) != 0 {
		t.Errorf("categories after forget = %v", cats)
	}
}

func TestHandleErrors(t *testing.T) {
	reg := setupRegistry(t, llmtest.NewScriptedClient())
	if _, err := reg.Handle(context.Background(), "memory_teleport", "u1", nil); err == nil {
		t.Error("expected unknown tool error")
	}
	if _, err := reg.Handle(context.Background(), "memory_search", "", []byte(`{"query":"x"}`)); err == nil {
		t.Error("expected missing owner error")
	}
	if _, err := reg.Handle(context.Background(), "memory_search", "u1", []byte(`{"query":"  "}`)); err == nil {
		t.Error("expected empty query error")
	}
}

func TestEveryToolHasSchema(t *testing.T) {
	reg := setupRegistry(t, llmtest.NewScriptedClient())
	for _, name := range reg.Names() {
		if _, ok := reg.Schema(name); !ok {
			t.Errorf("tool %s has no schema", name)
		}
	}
}
