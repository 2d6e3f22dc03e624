package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/imran1337/solid-prediction/internal/data/db"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/objstore"
)

func testApp(t *testing.T, store *objstore.MemoryStore) *App {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", "test-passphrase")
	t.Setenv("SCRATCH_DIR", t.TempDir())

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dbSvc, err := db.NewService(logger.Nop(), db.Config{
		Driver: db.DriverSQLite,
		DSN:    "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if err := db.AutoMigrateAll(dbSvc.DB()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = dbSvc.Close() })

	cfg := Config{
		Builder:         "annoy-indexer",
		Workers:         1,
		LockName:        "indexing_lock",
		LockTTL:         time.Minute,
		AmountParts:     7,
		ShutdownTimeout: time.Second,
	}
	a, err := wire(logger.Nop(), cfg, Clients{Redis: rdb, DB: dbSvc, Store: store})
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	return a
}

func get(t *testing.T, h http.Handler, path string) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s: want=200 got=%d body=%q", path, rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("GET %s decode: %v", path, err)
	}
	return out
}

func TestRehydrateSeedsExistingArchives(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemoryStore("bucket")
	for _, key := range []string{"Acme_LOD_1.zip", "Acme_LOD_2.zip", "featuremap/a.bin", "preset/p.json"} {
		if err := store.Put(ctx, key, bytes.NewReader([]byte("x")), 1, nil); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	a := testApp(t, store)

	n, err := a.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if n != 2 {
		t.Fatalf("seeded: want=2 got=%d", n)
	}

	h := a.Server.Engine
	got := get(t, h, "/annoy-indexer/status/Acme_LOD_1")
	if got["result"] != "done" {
		t.Fatalf("result: want=%q got=%v", "done", got["result"])
	}
	if url, _ := got["fileUrl"].(string); !strings.Contains(url, "Acme_LOD_1.zip") {
		t.Fatalf("fileUrl: got=%v", got["fileUrl"])
	}

	got = get(t, h, "/annoy-indexer/remove/Acme_LOD_2")
	if got["result"] != "removed" {
		t.Fatalf("remove: want=%q got=%v", "removed", got["result"])
	}
	if store.DeleteCount("Acme_LOD_2.zip") != 1 {
		t.Fatalf("archive not deleted")
	}
}

func TestRouterServesHealthAndBatch(t *testing.T) {
	a := testApp(t, objstore.NewMemoryStore("bucket"))
	h := a.Server.Engine

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "Running" {
		t.Fatalf("root: want=%q got=%q", "Running", rec.Body.String())
	}
	if got := get(t, h, "/is-alive"); got["alive"] != 1.0 {
		t.Fatalf("is-alive: got=%v", got)
	}
	if got := get(t, h, "/process/status"); got["running"] != false {
		t.Fatalf("process/status: got=%v", got)
	}
	if got := get(t, h, "/reset-redis"); got["status"] != true {
		t.Fatalf("reset-redis: got=%v", got)
	}
}
