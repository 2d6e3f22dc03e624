package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/", "200", time.Millisecond)
	m.ObserveBuild("success", time.Second)
	m.ObserveFetch(3, 1)
	m.IncPublish("absent", true)
	m.IncBatchRun("completed")
	m.StartDBCollector(nil, nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil Handler: want=503 got=%d", rec.Code)
	}
}

func TestCountersTrackObservations(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPI("GET", "/annoy-indexer/status/:id", "200", 20*time.Millisecond)
	m.ObserveAPI("GET", "/process", "500", time.Millisecond)
	m.ObserveBuild("success", 42*time.Second)
	m.ObserveFetch(250, 2)
	m.IncPublish("digest_match", false)
	m.IncBatchRun("rejected")
	m.IncBatchRun("rejected")

	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"status route", testutil.ToFloat64(m.apiRequests.WithLabelValues("GET", "/annoy-indexer/status/:id", "200")), 1},
		{"5xx", testutil.ToFloat64(m.apiReqError), 1},
		{"builds", testutil.ToFloat64(m.builds.WithLabelValues("success")), 1},
		{"fetched", testutil.ToFloat64(m.fetchRecords), 250},
		{"lost", testutil.ToFloat64(m.fetchLost), 2},
		{"publish", testutil.ToFloat64(m.publishes.WithLabelValues("digest_match", "false")), 1},
		{"batch", testutil.ToFloat64(m.batchRuns.WithLabelValues("rejected")), 2},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, tc.got)
		}
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveBuild("success", 42*time.Second)
	m.ObserveFetch(250, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rec.Code)
	}
	out := rec.Body.String()
	for _, want := range []string{
		`sp_index_builds_total{status="success"} 1`,
		`sp_index_build_duration_seconds_bucket{status="success",le="60"} 1`,
		`sp_index_build_duration_seconds_bucket{status="success",le="30"} 0`,
		`sp_fetch_records_total 250`,
		`# TYPE sp_redis_up gauge`,
		`go_goroutines`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestDBCollectorRegistersOnce(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:metrics?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	m := NewMetrics()
	m.StartDBCollector(nil, db)
	m.StartDBCollector(nil, db)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `go_sql_max_open_connections{db_name="sqlite"}`) {
		t.Fatalf("db stats missing:\n%s", rec.Body.String())
	}
}

func TestPingRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	m := NewMetrics()
	m.pingRedis(context.Background(), nil, rdb)
	if got := testutil.ToFloat64(m.redisUp); got != 1 {
		t.Fatalf("redis up: want=1 got=%v", got)
	}
	mr.Close()
	m.pingRedis(context.Background(), nil, rdb)
	if got := testutil.ToFloat64(m.redisUp); got != 0 {
		t.Fatalf("redis down: want=0 got=%v", got)
	}
}
