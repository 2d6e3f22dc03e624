package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zip"
)

// entryTime pins zip header timestamps so equal inputs give equal archives.
var entryTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Package is a built archive waiting to be published.
type Package struct {
	ID     string
	Name   string
	Size   int64
	Digest string

	open    func() (io.Reader, error)
	cleanup func()
}

// Reader returns the archive bytes from the start.
func (pk *Package) Reader() (io.Reader, error) { return pk.open() }

// Close releases the buffer behind the package.
func (pk *Package) Close() {
	if pk.cleanup != nil {
		pk.cleanup()
		pk.cleanup = nil
	}
}

// Package zips the index file and the encrypted metadata for id. The digest
// covers the index bytes, the plaintext metadata and the cipher name and key
// fingerprint, so it ignores the cipher's random IV but changes with the key.
func (p *Packager) Package(id, indexPath string, meta Metadata) (*Package, error) {
	if meta.ImageFileNames == nil {
		meta.ImageFileNames = []string{}
	}
	info, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	sealed, err := p.cipher.Encrypt(info)
	if err != nil {
		return nil, fmt.Errorf("encrypt metadata: %w", err)
	}

	var (
		w       io.Writer
		buf     *bytes.Buffer
		tmp     *os.File
		cleanup = func() {}
	)
	switch p.cfg.BufferMode {
	case BufferDisk:
		if err := os.MkdirAll(p.cfg.ScratchDir, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
		tmp, err = os.CreateTemp(p.cfg.ScratchDir, "artifact-*"+archiveExt)
		if err != nil {
			return nil, fmt.Errorf("create archive buffer: %w", err)
		}
		name := tmp.Name()
		cleanup = func() {
			_ = tmp.Close()
			_ = os.Remove(name)
		}
		w = tmp
	default:
		buf = &bytes.Buffer{}
		w = buf
	}

	digest := sha256.New()
	size, err := writeArchive(w, id, indexPath, sealed, digest)
	if err != nil {
		cleanup()
		return nil, err
	}
	digest.Write([]byte{0})
	digest.Write(info)
	digest.Write([]byte{0})
	digest.Write([]byte(p.cipher.Name()))
	digest.Write([]byte{0})
	digest.Write([]byte(p.cipher.Fingerprint()))

	pk := &Package{
		ID:      id,
		Name:    ArchiveName(id),
		Size:    size,
		Digest:  hex.EncodeToString(digest.Sum(nil)),
		cleanup: cleanup,
	}
	if tmp != nil {
		pk.open = func() (io.Reader, error) {
			if _, err := tmp.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return tmp, nil
		}
	} else {
		data := buf.Bytes()
		pk.open = func() (io.Reader, error) { return bytes.NewReader(data), nil }
	}
	return pk, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

func writeArchive(w io.Writer, id, indexPath string, sealed []byte, digest io.Writer) (int64, error) {
	f, err := os.Open(indexPath)
	if err != nil {
		return 0, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)

	ew, err := zw.CreateHeader(&zip.FileHeader{Name: IndexEntryName(id), Method: zip.Deflate, Modified: entryTime})
	if err != nil {
		return 0, fmt.Errorf("zip index entry: %w", err)
	}
	if _, err := io.Copy(io.MultiWriter(ew, digest), f); err != nil {
		return 0, fmt.Errorf("zip index entry: %w", err)
	}

	// Stored, so the archive size only moves when the plaintext does.
	iw, err := zw.CreateHeader(&zip.FileHeader{Name: InfoEntryName(id), Method: zip.Store, Modified: entryTime})
	if err != nil {
		return 0, fmt.Errorf("zip info entry: %w", err)
	}
	if _, err := iw.Write(sealed); err != nil {
		return 0, fmt.Errorf("zip info entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close archive: %w", err)
	}
	return cw.n, nil
}
