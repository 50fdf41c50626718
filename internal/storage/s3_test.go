package storage

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-bench/internal/config"
)

// fakeS3 is a path-style S3 endpoint holding objects in memory.
type fakeS3 struct {
	bucket string

	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, "/"+f.bucket)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	key := strings.TrimPrefix(rest, "/")

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case key == "" && r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		data, err := readObjectBody(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[key] = data
		f.puts++
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead || r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// readObjectBody returns the object bytes of a PutObject request, decoding
// aws-chunked bodies when the client streams with a trailing checksum.
func readObjectBody(r *http.Request) ([]byte, error) {
	if !strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		return io.ReadAll(r.Body)
	}
	var out bytes.Buffer
	br := bufio.NewReader(r.Body)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		br.ReadString('\n')
	}
}

func (f *fakeS3) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func (f *fakeS3) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func testS3Config(endpoint string) config.S3Config {
	return config.S3Config{
		Bucket:     "bench-audio",
		Endpoint:   endpoint,
		Region:     "us-east-1",
		AccessKey:  "test",
		SecretKey:  "test",
		LocalCache: true,
	}
}

func newTestS3(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "bench-audio", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3Store(testS3Config(srv.URL), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	return s, fake
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestS3(t)

	if err := s.HeadBucket(ctx); err != nil {
		t.Fatalf("HeadBucket: %v", err)
	}
	key := "2026-03-10/run-1.wav"
	if s.Exists(ctx, key) {
		t.Fatal("key should not exist yet")
	}
	if err := s.Save(ctx, key, []byte("RIFF"), "audio/wav"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if data, ok := fake.object("benchmarks/" + key); !ok || string(data) != "RIFF" {
		t.Fatalf("stored object = %q, %v", data, ok)
	}
	if !s.Exists(ctx, key) {
		t.Error("key should exist after Save")
	}

	r, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "RIFF" {
		t.Errorf("data = %q", data)
	}
	if _, err := s.Open(ctx, "2026-03-10/missing.wav"); err == nil {
		t.Error("expected error opening missing key")
	}
}

func TestS3StorePrefix(t *testing.T) {
	s, fake := newTestS3(t)
	s.prefix = "lab"
	if err := s.Save(context.Background(), "2026-03-10/run-2.mp3", []byte("ID3"), "audio/mpeg"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := fake.object("lab/benchmarks/2026-03-10/run-2.mp3"); !ok {
		t.Error("object not stored under prefix")
	}
}

func TestTieredStoreSave(t *testing.T) {
	ctx := context.Background()
	s3, fake := newTestS3(t)
	dir := t.TempDir()
	uploader := NewAsyncUploader(s3, 4, 1, zerolog.Nop())
	uploader.Start()
	tiered := NewTieredStore(s3, NewLocalStore(dir), uploader, zerolog.Nop())

	key := "2026-03-10/run-3.wav"
	if err := tiered.Save(ctx, key, []byte("RIFF"), "audio/wav"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(key))); err != nil {
		t.Errorf("local copy missing: %v", err)
	}

	// Stop drains the queue.
	uploader.Stop()
	if _, ok := fake.object("benchmarks/" + key); !ok {
		t.Error("upload did not reach S3")
	}
	if tiered.Type() != "tiered" {
		t.Errorf("Type = %q", tiered.Type())
	}
}

func TestTieredStoreInlineUpload(t *testing.T) {
	s3, fake := newTestS3(t)
	tiered := NewTieredStore(s3, NewLocalStore(t.TempDir()), nil, zerolog.Nop())
	if err := tiered.Save(context.Background(), "2026-03-10/run-4.wav", []byte("RIFF"), "audio/wav"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if fake.putCount() != 1 {
		t.Errorf("puts = %d, want 1", fake.putCount())
	}
}

func TestTieredStoreOpenFallsBackToS3(t *testing.T) {
	ctx := context.Background()
	s3, fake := newTestS3(t)
	local := NewLocalStore(t.TempDir())
	tiered := NewTieredStore(s3, local, nil, zerolog.Nop())

	key := "2026-03-01/run-5.flac"
	fake.objects["benchmarks/"+key] = []byte("fLaC")
	if local.Exists(ctx, key) {
		t.Fatal("local cache should start empty")
	}
	if !tiered.Exists(ctx, key) {
		t.Error("Exists should consult S3")
	}

	r, err := tiered.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "fLaC" {
		t.Errorf("data = %q", data)
	}
	if !local.Exists(ctx, key) {
		t.Error("S3 read should be cached locally")
	}
}

func TestAsyncUploaderEnqueueAfterStop(t *testing.T) {
	s3, fake := newTestS3(t)
	u := NewAsyncUploader(s3, 1, 1, zerolog.Nop())
	u.Start()
	u.Stop()
	u.Stop()
	u.Enqueue("2026-03-10/run-6.wav", []byte("RIFF"), "audio/wav")
	if fake.putCount() != 0 {
		t.Errorf("puts = %d, want 0 after stop", fake.putCount())
	}
}

func TestUploadReconciler(t *testing.T) {
	s3, fake := newTestS3(t)
	dir := t.TempDir()
	today := time.Now().UTC().Format("2006-01-02")
	write := func(rel string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		os.MkdirAll(filepath.Dir(p), 0o755)
		os.WriteFile(p, []byte("audio"), 0o644)
	}
	write(today + "/missing.wav")
	write(today + "/uploaded.mp3")
	write(today + "/.audio-1.tmp")
	write("2020-01-01/ancient.wav")
	write("scratch/notes.wav")
	fake.objects["benchmarks/"+today+"/uploaded.mp3"] = []byte("audio")

	res := NewUploadReconciler(dir, s3, zerolog.Nop()).reconcile(context.Background())

	if !reflect.DeepEqual(res.uploaded, []string{"missing"}) || res.checked != 2 {
		t.Errorf("uploaded = %v checked = %d, want [missing] of 2", res.uploaded, res.checked)
	}
	if _, ok := fake.object("benchmarks/" + today + "/missing.wav"); !ok {
		t.Error("missing upload was not reconciled")
	}
	if fake.putCount() != 1 {
		t.Errorf("puts = %d, want 1", fake.putCount())
	}
	if _, ok := fake.object("benchmarks/2020-01-01/ancient.wav"); ok {
		t.Error("files outside the window should be left alone")
	}
}

func TestNewTiered(t *testing.T) {
	fake := &fakeS3{bucket: "bench-audio", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := testS3Config(srv.URL)
	cfg.CacheRetention = 24 * time.Hour
	store, services, err := New(cfg, t.TempDir(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Type() != "tiered" {
		t.Errorf("Type = %q, want tiered", store.Type())
	}
	// uploader, pruner, reconciler
	if len(services) != 3 {
		t.Errorf("services = %d, want 3", len(services))
	}

	cfg.LocalCache = false
	store, services, err = New(cfg, t.TempDir(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Type() != "s3" || len(services) != 0 {
		t.Errorf("Type = %q services = %d, want s3 with none", store.Type(), len(services))
	}
}

func TestNewUnreachableBucket(t *testing.T) {
	fake := &fakeS3{bucket: "other-bucket", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	if _, _, err := New(testS3Config(srv.URL), t.TempDir(), nil, zerolog.Nop()); err == nil {
		t.Error("expected startup check to fail for a missing bucket")
	}
}

func TestUploadReconcilerStop(t *testing.T) {
	s3, _ := newTestS3(t)
	r := NewUploadReconciler(t.TempDir(), s3, zerolog.Nop())
	r.Start()
	r.Stop()
	r.Stop()
	if r.ctx.Err() == nil {
		t.Error("Stop should cancel the reconciler context")
	}
	if res := r.reconcile(r.ctx); res.checked != 0 {
		t.Errorf("checked = %d after stop", res.checked)
	}
}
