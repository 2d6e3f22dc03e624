package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imran1337/solid-prediction/internal/batch"
	"github.com/imran1337/solid-prediction/internal/indexer"
	"github.com/imran1337/solid-prediction/internal/platform/apierr"
	"github.com/imran1337/solid-prediction/internal/services"
	"github.com/imran1337/solid-prediction/internal/tasks"
)

type stubBuilder struct {
	mu     sync.Mutex
	calls  int
	gate   chan struct{}
	err    error
	dbDown bool
}

func (b *stubBuilder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *stubBuilder) CheckDB(ctx context.Context, id string) bool { return !b.dbDown }

func (b *stubBuilder) run(ctx context.Context, id string) (tasks.ArtifactRef, error) {
	b.mu.Lock()
	b.calls++
	gate := b.gate
	err := b.err
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return tasks.ArtifactRef{}, ctx.Err()
		}
	}
	if err != nil {
		return tasks.ArtifactRef{}, err
	}
	return tasks.ArtifactRef{Name: id + ".zip"}, nil
}

func (b *stubBuilder) Work(vc indexer.VendorCategory) tasks.WorkFunc {
	return func(ctx context.Context) (tasks.ArtifactRef, error) { return b.run(ctx, vc.Key()) }
}

func (b *stubBuilder) NamesWork(names []string) func(id string) tasks.WorkFunc {
	return func(id string) tasks.WorkFunc {
		return func(ctx context.Context) (tasks.ArtifactRef, error) { return b.run(ctx, id) }
	}
}

type stubSigner struct {
	err error
}

func (s stubSigner) SignedURL(ctx context.Context, id string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://storage.example/" + id + ".zip?sig=1", nil
}

type nopDeleter struct{}

func (nopDeleter) Delete(ctx context.Context, id string) error { return nil }

func newIndexerRouter(t *testing.T, b *stubBuilder, s URLSigner) (*gin.Engine, *tasks.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := tasks.New(nil, nopDeleter{}, 2)
	reg.Start(context.Background())
	t.Cleanup(reg.Stop)

	h := NewIndexerHandler(nil, reg, b, s)
	r := gin.New()
	g := r.Group("/annoy-indexer")
	g.GET("/setup/:vendor/:category", h.Setup)
	g.POST("/setup", h.SetupNames)
	g.GET("/status/:id", h.Status)
	g.GET("/remove/:id", h.Remove)
	g.GET("/cancel/:id", h.Cancel)
	return r, reg
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func waitDone(t *testing.T, reg *tasks.Registry, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := reg.Wait(ctx, id); err != nil {
		t.Fatalf("wait %s: %v", id, err)
	}
}

func TestSetupReturnsSameIDTwice(t *testing.T) {
	b := &stubBuilder{gate: make(chan struct{})}
	r, reg := newIndexerRouter(t, b, stubSigner{})

	first := decode(t, do(r, http.MethodGet, "/annoy-indexer/setup/Acme/LOD_1", nil))
	second := decode(t, do(r, http.MethodGet, "/annoy-indexer/setup/Acme/LOD_1", nil))
	if first["id"] != "Acme_LOD_1" || second["id"] != "Acme_LOD_1" {
		t.Fatalf("ids: want=%q got=%v,%v", "Acme_LOD_1", first["id"], second["id"])
	}
	close(b.gate)
	waitDone(t, reg, "Acme_LOD_1")
	if n := b.count(); n != 1 {
		t.Fatalf("builds: want=1 got=%d", n)
	}
}

func TestStatusLifecycle(t *testing.T) {
	b := &stubBuilder{}
	r, reg := newIndexerRouter(t, b, stubSigner{})

	got := decode(t, do(r, http.MethodGet, "/annoy-indexer/status/nope", nil))
	if got["result"] != "id unknown" {
		t.Fatalf("unknown: want=%q got=%v", "id unknown", got["result"])
	}

	do(r, http.MethodGet, "/annoy-indexer/setup/Acme/LOD_1", nil)
	waitDone(t, reg, "Acme_LOD_1")

	rec := do(r, http.MethodGet, "/annoy-indexer/status/Acme_LOD_1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: want=200 got=%d", rec.Code)
	}
	got = decode(t, rec)
	if got["result"] != "done" {
		t.Fatalf("result: want=%q got=%v", "done", got["result"])
	}
	if got["fileUrl"] != "https://storage.example/Acme_LOD_1.zip?sig=1" {
		t.Fatalf("fileUrl: got=%v", got["fileUrl"])
	}
}

func TestStatusDoneWithBuildError(t *testing.T) {
	b := &stubBuilder{err: indexer.ErrNothingToIndex}
	r, reg := newIndexerRouter(t, b, stubSigner{})

	do(r, http.MethodGet, "/annoy-indexer/setup/Acme/LOD_9", nil)
	waitDone(t, reg, "Acme_LOD_9")

	got := decode(t, do(r, http.MethodGet, "/annoy-indexer/status/Acme_LOD_9", nil))
	if got["result"] != "done" || got["error"] != indexer.ErrNothingToIndex.Error() {
		t.Fatalf("unexpected body: %v", got)
	}
	if _, ok := got["fileUrl"]; ok {
		t.Fatalf("fileUrl present on failed build: %v", got)
	}
}

func TestStatusSigningFailure(t *testing.T) {
	b := &stubBuilder{}
	r, reg := newIndexerRouter(t, b, stubSigner{err: errors.New("no such object")})

	do(r, http.MethodGet, "/annoy-indexer/setup/Acme/LOD_1", nil)
	waitDone(t, reg, "Acme_LOD_1")

	rec := do(r, http.MethodGet, "/annoy-indexer/status/Acme_LOD_1", nil)
	if rec.Code != http.StatusNotFound || rec.Body.String() != "File not found" {
		t.Fatalf("want 404 File not found, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRemoveAndCancel(t *testing.T) {
	b := &stubBuilder{gate: make(chan struct{})}
	r, reg := newIndexerRouter(t, b, stubSigner{})

	do(r, http.MethodGet, "/annoy-indexer/setup/Acme/LOD_1", nil)
	got := decode(t, do(r, http.MethodGet, "/annoy-indexer/remove/Acme_LOD_1", nil))
	if got["result"] != "id not found or not done" {
		t.Fatalf("remove running: got=%v", got["result"])
	}

	got = decode(t, do(r, http.MethodGet, "/annoy-indexer/cancel/Acme_LOD_1", nil))
	if got["result"] != "cancelled" {
		t.Fatalf("cancel: want=%q got=%v", "cancelled", got["result"])
	}
	waitDone(t, reg, "Acme_LOD_1")
	got = decode(t, do(r, http.MethodGet, "/annoy-indexer/cancel/Acme_LOD_1", nil))
	if got["result"] != resultNotCancellable {
		t.Fatalf("second cancel: want=%q got=%v", resultNotCancellable, got["result"])
	}

	close(b.gate)
	do(r, http.MethodGet, "/annoy-indexer/setup/Acme/LOD_2", nil)
	waitDone(t, reg, "Acme_LOD_2")
	got = decode(t, do(r, http.MethodGet, "/annoy-indexer/remove/Acme_LOD_2", nil))
	if got["result"] != "removed" {
		t.Fatalf("remove done: want=%q got=%v", "removed", got["result"])
	}
	got = decode(t, do(r, http.MethodGet, "/annoy-indexer/status/Acme_LOD_2", nil))
	if got["result"] != "id unknown" {
		t.Fatalf("after remove: want=%q got=%v", "id unknown", got["result"])
	}
}

func TestSetupAfterCancelRebuilds(t *testing.T) {
	b := &stubBuilder{gate: make(chan struct{})}
	r, reg := newIndexerRouter(t, b, stubSigner{})

	do(r, http.MethodGet, "/annoy-indexer/setup/Acme/LOD_1", nil)
	got := decode(t, do(r, http.MethodGet, "/annoy-indexer/cancel/Acme_LOD_1", nil))
	if got["result"] != "cancelled" {
		t.Fatalf("cancel: want=%q got=%v", "cancelled", got["result"])
	}
	waitDone(t, reg, "Acme_LOD_1")

	close(b.gate)
	got = decode(t, do(r, http.MethodGet, "/annoy-indexer/setup/Acme/LOD_1", nil))
	if got["id"] != "Acme_LOD_1" {
		t.Fatalf("id: want=%q got=%v", "Acme_LOD_1", got["id"])
	}
	waitDone(t, reg, "Acme_LOD_1")
	got = decode(t, do(r, http.MethodGet, "/annoy-indexer/status/Acme_LOD_1", nil))
	if got["result"] != "done" || got["fileUrl"] == nil {
		t.Fatalf("status after rebuild: %v", got)
	}
	if n := b.count(); n != 2 {
		t.Fatalf("builds: want=2 got=%d", n)
	}
}

func TestSetupDBUnreachable(t *testing.T) {
	b := &stubBuilder{dbDown: true}
	r, reg := newIndexerRouter(t, b, stubSigner{})

	rec := do(r, http.MethodGet, "/annoy-indexer/setup/Acme/LOD_1", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: want=500 got=%d", rec.Code)
	}
	if reg.Len() != 0 {
		t.Fatalf("task submitted while DB down: len=%d", reg.Len())
	}
}

func TestSetupNames(t *testing.T) {
	b := &stubBuilder{}
	r, reg := newIndexerRouter(t, b, stubSigner{})

	rec := do(r, http.MethodPost, "/annoy-indexer/setup", map[string]any{"data": []string{" ", ""}})
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("empty names: want=406 got=%d", rec.Code)
	}

	got := decode(t, do(r, http.MethodPost, "/annoy-indexer/setup", map[string]any{"data": []string{"a.png", "b.png"}}))
	id, _ := got["id"].(string)
	if id == "" {
		t.Fatalf("missing id: %v", got)
	}
	waitDone(t, reg, id)
	if st := reg.Status(id); st.State != tasks.StateDone || st.Err != nil {
		t.Fatalf("anonymous build: state=%s err=%v", st.State, st.Err)
	}
}

type stubRunner struct {
	err      error
	resetErr error
	resets   int
}

func (s *stubRunner) Start(ctx context.Context) error { return s.err }
func (s *stubRunner) Status() batch.Status            { return batch.Status{Running: s.err != nil} }
func (s *stubRunner) ResetLock(ctx context.Context) (bool, error) {
	s.resets++
	return s.resetErr == nil, s.resetErr
}

func TestBatchHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		err    error
		status bool
		msg    string
	}{
		{"started", nil, true, "Indexing process has been initiated."},
		{"held", batch.ErrAlreadyRunning, false, "Indexing process is already in progress."},
		{"failed", errors.New("redis down"), false, "Error in Indexing Process"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewBatchHandler(nil, &stubRunner{err: tc.err})
			r := gin.New()
			r.GET("/process", h.Process)
			got := decode(t, do(r, http.MethodGet, "/process", nil))
			if got["status"] != tc.status || got["msg"] != tc.msg {
				t.Fatalf("want=%v/%q got=%v", tc.status, tc.msg, got)
			}
		})
	}
}

func TestResetLock(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runner := &stubRunner{}
	h := NewBatchHandler(nil, runner)
	r := gin.New()
	r.GET("/reset-lock", h.ResetLock)

	got := decode(t, do(r, http.MethodGet, "/reset-lock", nil))
	if got["status"] != true || got["msg"] != "Redis reset successful." {
		t.Fatalf("reset: got=%v", got)
	}

	runner.resetErr = errors.New("conn refused")
	got = decode(t, do(r, http.MethodGet, "/reset-lock", nil))
	if got["status"] != false || got["msg"] != "Error resetting Redis: conn refused" {
		t.Fatalf("reset failure: got=%v", got)
	}
	if runner.resets != 2 {
		t.Fatalf("resets: want=2 got=%d", runner.resets)
	}
}

type stubParts struct {
	files map[string][]byte
}

func (s stubParts) FindMatching(ctx context.Context, names []string) (map[string]services.PartMatch, error) {
	if len(names) == 1 && names[0] == "boom" {
		return nil, apierr.New(http.StatusServiceUnavailable, "document_db_unavailable", errors.New("down"))
	}
	return map[string]services.PartMatch{"u1f.obj": {"histo": float64(len(names)) / 7.0}}, nil
}

func (s stubParts) PresetFile(ctx context.Context, name string) ([]byte, error) {
	return s.get("preset/" + name)
}

func (s stubParts) ImageFile(ctx context.Context, name string) ([]byte, error) {
	return s.get("img/" + name)
}

func (s stubParts) get(key string) ([]byte, error) {
	if b, ok := s.files[key]; ok {
		return b, nil
	}
	return nil, apierr.New(http.StatusNotFound, "file_not_found", errors.New(key))
}

func TestPartsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewPartsHandler(stubParts{files: map[string][]byte{
		"preset/p.json": []byte(`{"a":1}`),
		"img/x.png":     {0x89, 'P', 'N', 'G'},
	}})
	r := gin.New()
	r.POST("/find-matching-part", h.FindMatching)
	r.POST("/get-preset-file", h.PresetFile)
	r.POST("/get-img-file", h.ImageFile)

	got := decode(t, do(r, http.MethodPost, "/find-matching-part", map[string]any{"data": []string{"a", "b"}}))
	m, _ := got["u1f.obj"].(map[string]any)
	if m == nil || m["histo"] != 2.0/7.0 {
		t.Fatalf("find-matching-part: got=%v", got)
	}

	rec := do(r, http.MethodPost, "/find-matching-part", map[string]any{"data": []string{"boom"}})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("db outage: want=503 got=%d", rec.Code)
	}

	rec = do(r, http.MethodPost, "/get-img-file", map[string]any{"data": "x.png"})
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), []byte{0x89, 'P', 'N', 'G'}) {
		t.Fatalf("get-img-file: %d %q", rec.Code, rec.Body.Bytes())
	}
	rec = do(r, http.MethodPost, "/get-preset-file", map[string]any{"data": "missing.json"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing preset: want=404 got=%d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler()
	r := gin.New()
	r.GET("/", h.Root)
	r.GET("/is-alive", h.IsAlive)

	if rec := do(r, http.MethodGet, "/", nil); rec.Body.String() != "Running" {
		t.Fatalf("root: want=%q got=%q", "Running", rec.Body.String())
	}
	got := decode(t, do(r, http.MethodGet, "/is-alive", nil))
	if got["alive"] != 1.0 {
		t.Fatalf("is-alive: got=%v", got)
	}
}
