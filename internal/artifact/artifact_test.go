package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/imran1337/solid-prediction/internal/platform/crypt"
	"github.com/imran1337/solid-prediction/internal/platform/objstore"
)

func newPackager(t *testing.T, store objstore.Store, mode string) *Packager {
	t.Helper()
	c, err := crypt.New(crypt.CipherFernet, "secret")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	p, err := New(nil, store, c, Config{BufferMode: mode, ScratchDir: t.TempDir(), URLExpiry: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func writeIndex(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx.ann")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	return path
}

func publish(t *testing.T, p *Packager, id, indexPath string, meta Metadata) *Artifact {
	t.Helper()
	pk, err := p.Package(id, indexPath, meta)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	defer pk.Close()
	art, err := p.Publish(context.Background(), pk)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return art
}

func TestNames(t *testing.T) {
	if got := ArchiveName("Acme_LOD_1"); got != "Acme_LOD_1.zip" {
		t.Fatalf("ArchiveName: want=%q got=%q", "Acme_LOD_1.zip", got)
	}
	if got := IndexEntryName("Acme_LOD_1"); got != "Acme_LOD_1_fvecs.ann" {
		t.Fatalf("IndexEntryName: got=%q", got)
	}
	if got := InfoEntryName("Acme_LOD_1"); got != "Acme_LOD_1_info.json" {
		t.Fatalf("InfoEntryName: got=%q", got)
	}
	for key, want := range map[string]string{"a_b.zip": "a_b", "img/x.zip": "", "a.bin": "", ".zip": ""} {
		id, ok := IDFromArchive(key)
		if id != want || ok != (want != "") {
			t.Fatalf("IDFromArchive(%q): want=%q got=%q ok=%v", key, want, id, ok)
		}
	}
}

func TestArchiveContents(t *testing.T) {
	for _, mode := range []string{BufferMemory, BufferDisk} {
		store := objstore.NewMemoryStore("b")
		p := newPackager(t, store, mode)
		index := bytes.Repeat([]byte{1, 2, 3, 4}, 1000)
		meta := Metadata{ImageFileNames: []string{"a.png", "b.png"}, Length: 512}

		art := publish(t, p, "Acme_LOD_1", writeIndex(t, index), meta)
		if !art.Uploaded || art.URL == "" || art.Name != "Acme_LOD_1.zip" {
			t.Fatalf("%s: unexpected artifact %+v", mode, art)
		}

		raw, err := objstore.ReadAll(context.Background(), store, "Acme_LOD_1.zip")
		if err != nil {
			t.Fatalf("%s: read archive: %v", mode, err)
		}
		if int64(len(raw)) != art.Size {
			t.Fatalf("%s: size: want=%d got=%d", mode, art.Size, len(raw))
		}
		zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
		if err != nil {
			t.Fatalf("%s: open zip: %v", mode, err)
		}
		if len(zr.File) != 2 || zr.File[0].Name != "Acme_LOD_1_fvecs.ann" || zr.File[1].Name != "Acme_LOD_1_info.json" {
			t.Fatalf("%s: unexpected entries", mode)
		}
		got := readEntry(t, zr.File[0])
		if !bytes.Equal(got, index) {
			t.Fatalf("%s: index entry differs", mode)
		}
		plain, err := p.cipher.Decrypt(readEntry(t, zr.File[1]))
		if err != nil {
			t.Fatalf("%s: decrypt info: %v", mode, err)
		}
		var back Metadata
		if err := json.Unmarshal(plain, &back); err != nil {
			t.Fatalf("%s: info json: %v", mode, err)
		}
		if back.Length != 512 || len(back.ImageFileNames) != 2 || back.ImageFileNames[1] != "b.png" {
			t.Fatalf("%s: metadata: got=%+v", mode, back)
		}
		if !strings.Contains(string(plain), "\n    \"image_file_names\"") {
			t.Fatalf("%s: metadata not indented: %s", mode, plain)
		}
	}
}

func readEntry(t *testing.T, f *zip.File) []byte {
	t.Helper()
	rc, err := f.Open()
	if err != nil {
		t.Fatalf("open entry %s: %v", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read entry %s: %v", f.Name, err)
	}
	return b
}

func TestPublishSkipsIdenticalOutput(t *testing.T) {
	store := objstore.NewMemoryStore("b")
	p := newPackager(t, store, BufferMemory)
	index := bytes.Repeat([]byte{9, 8, 7}, 500)
	meta := Metadata{ImageFileNames: []string{"a.png"}, Length: 3}

	first := publish(t, p, "v_c", writeIndex(t, index), meta)
	second := publish(t, p, "v_c", writeIndex(t, index), meta)
	if !first.Uploaded || second.Uploaded {
		t.Fatalf("uploaded: want=true,false got=%v,%v", first.Uploaded, second.Uploaded)
	}
	if first.Digest != second.Digest {
		t.Fatalf("digest changed for identical input")
	}
	if n := store.PutCount("v_c.zip"); n != 1 {
		t.Fatalf("puts: want=1 got=%d", n)
	}

	changed := append([]byte{}, index...)
	changed[700] ^= 0xff
	third := publish(t, p, "v_c", writeIndex(t, changed), meta)
	if !third.Uploaded {
		t.Fatalf("changed byte did not upload")
	}
	if n := store.PutCount("v_c.zip"); n != 2 {
		t.Fatalf("puts: want=2 got=%d", n)
	}
}

func TestPublishUploadsAfterKeyChange(t *testing.T) {
	store := objstore.NewMemoryStore("b")
	index := bytes.Repeat([]byte{1, 2, 3}, 400)
	meta := Metadata{ImageFileNames: []string{"a.png"}, Length: 3}

	var digests []string
	for _, tc := range []struct {
		cipher, key string
		upload      bool
	}{
		{crypt.CipherFernet, "old-key", true},
		{crypt.CipherFernet, "old-key", false},
		{crypt.CipherFernet, "new-key", true},
		{crypt.CipherXChaCha20Poly1305, "new-key", true},
	} {
		c, err := crypt.New(tc.cipher, tc.key)
		if err != nil {
			t.Fatalf("cipher %s: %v", tc.cipher, err)
		}
		p, err := New(nil, store, c, Config{BufferMode: BufferMemory, ScratchDir: t.TempDir(), URLExpiry: time.Minute})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		art := publish(t, p, "v_c", writeIndex(t, index), meta)
		if art.Uploaded != tc.upload {
			t.Fatalf("%s/%s uploaded: want=%v got=%v", tc.cipher, tc.key, tc.upload, art.Uploaded)
		}
		digests = append(digests, art.Digest)
	}
	if digests[0] != digests[1] || digests[1] == digests[2] || digests[2] == digests[3] {
		t.Fatalf("digests: %v", digests)
	}
	if n := store.PutCount("v_c.zip"); n != 3 {
		t.Fatalf("puts: want=3 got=%d", n)
	}
}

func TestPublishFallsBackToSize(t *testing.T) {
	store := objstore.NewMemoryStore("b")
	p := newPackager(t, store, BufferMemory)
	path := writeIndex(t, []byte("0123456789abcdef"))
	pk, err := p.Package("v_c", path, Metadata{Length: 4})
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	defer pk.Close()

	// legacy object of the same size and no digest metadata
	legacy := bytes.Repeat([]byte{0}, int(pk.Size))
	if err := store.Put(context.Background(), "v_c.zip", bytes.NewReader(legacy), pk.Size, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	art, err := p.Publish(context.Background(), pk)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if art.Uploaded {
		t.Fatalf("same-size legacy object should not be replaced")
	}

	if err := store.Put(context.Background(), "v_c.zip", bytes.NewReader([]byte("x")), 1, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	art, err = p.Publish(context.Background(), pk)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !art.Uploaded {
		t.Fatalf("size mismatch should upload")
	}
}

type statFailStore struct {
	*objstore.MemoryStore
}

func (s statFailStore) Stat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	return objstore.ObjectInfo{}, errors.New("unavailable")
}

func (s statFailStore) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", errors.New("no signer")
}

func TestPublishUploadsOnStatError(t *testing.T) {
	inner := objstore.NewMemoryStore("b")
	p := newPackager(t, statFailStore{inner}, BufferMemory)
	art := publish(t, p, "v_c", writeIndex(t, []byte("abcd")), Metadata{})
	if !art.Uploaded {
		t.Fatalf("stat error should upload")
	}
	if art.URL != "" {
		t.Fatalf("URL: want empty got=%q", art.URL)
	}
}

func TestScratchCleanup(t *testing.T) {
	p := newPackager(t, objstore.NewMemoryStore("b"), BufferDisk)
	dir, cleanup, err := p.Scratch("Acme LOD_1")
	if err != nil {
		t.Fatalf("Scratch: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "x"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cleanup()
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present: %v", err)
	}
}

func TestExistingAndDelete(t *testing.T) {
	store := objstore.NewMemoryStore("b")
	ctx := context.Background()
	for _, k := range []string{"a_b.zip", "c_d.zip", "featuremap/x.bin", "img/y.zip"} {
		if err := store.Put(ctx, k, strings.NewReader("z"), 1, nil); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	p := newPackager(t, store, BufferMemory)
	ids, err := p.Existing(ctx)
	if err != nil {
		t.Fatalf("Existing: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a_b" || ids[1] != "c_d" {
		t.Fatalf("Existing: got=%v", ids)
	}
	if err := p.Delete(ctx, "a_b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := p.Delete(ctx, "a_b"); !objstore.IsNotFound(err) {
		t.Fatalf("second delete: want not found got=%v", err)
	}
}
