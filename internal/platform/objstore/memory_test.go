package objstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("features")

	if _, err := s.Stat(ctx, "Acme_LOD_1.zip"); !IsNotFound(err) {
		t.Fatalf("Stat missing: want ErrNotFound got=%v", err)
	}
	meta := map[string]string{"content-sha256": "abc"}
	if err := s.Put(ctx, "Acme_LOD_1.zip", strings.NewReader("zipbytes"), 8, meta); err != nil {
		t.Fatalf("Put: %v", err)
	}
	meta["content-sha256"] = "mutated"

	info, err := s.Stat(ctx, "Acme_LOD_1.zip")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 8 || info.Metadata["content-sha256"] != "abc" {
		t.Fatalf("Stat: got=%+v", info)
	}

	b, err := ReadAll(ctx, s, "Acme_LOD_1.zip")
	if err != nil || string(b) != "zipbytes" {
		t.Fatalf("ReadAll: want=%q got=%q err=%v", "zipbytes", b, err)
	}

	url, err := s.SignedURL(ctx, "Acme_LOD_1.zip", 15*time.Minute)
	if err != nil || !strings.HasPrefix(url, "memory://features/Acme_LOD_1.zip") {
		t.Fatalf("SignedURL: got=%q err=%v", url, err)
	}

	if err := s.Put(ctx, "featuremap/a.bin", strings.NewReader("x"), 1, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	list, err := s.List(ctx, "featuremap/")
	if err != nil || len(list) != 1 || list[0].Key != "featuremap/a.bin" {
		t.Fatalf("List: got=%+v err=%v", list, err)
	}

	if err := s.Delete(ctx, "Acme_LOD_1.zip"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "Acme_LOD_1.zip"); !IsNotFound(err) {
		t.Fatalf("Delete twice: want ErrNotFound got=%v", err)
	}
	if got := s.PutCount("Acme_LOD_1.zip"); got != 1 {
		t.Fatalf("PutCount: want=1 got=%d", got)
	}
}

func TestMemoryStoreFailOn(t *testing.T) {
	s := NewMemoryStore("features")
	boom := errors.New("boom")
	s.FailOn("featuremap/x.bin", boom)
	if _, err := s.Get(context.Background(), "featuremap/x.bin"); !errors.Is(err, boom) {
		t.Fatalf("Get: want boom got=%v", err)
	}
}
