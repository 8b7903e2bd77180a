package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "quotebot/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreAppendAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t, dir)
	ctx := context.Background()

	if err := st.AppendAudit(ctx, AuditEntry{At: time.Now(), ActorID: 1, Action: "post_now"}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if err := st.AppendPost(ctx, PostRecord{At: time.Now(), Dest: "@c", Quote: "q", Author: "a", MessageID: 3, Mode: "direct"}); err != nil {
		t.Fatalf("AppendPost: %v", err)
	}
	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "quote:abc", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: dedup state survives via the journal.
	st2 := openTestStore(t, dir)
	defer st2.Close()
	got, ok, err := st2.GetDedup(ctx, "quote:abc")
	if err != nil || !ok {
		t.Fatalf("GetDedup after reload: ok=%v err=%v", ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}

	// Posts landed as JSON lines.
	f, err := os.Open(filepath.Join(dir, "store.posts.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("no post records")
	}
	var rec PostRecord
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Quote != "q" || rec.Mode != "direct" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestDedupExpiredDroppedOnReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t, dir)
	ctx := context.Background()

	if err := st.PutDedup(ctx, "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	st2 := openTestStore(t, dir)
	defer st2.Close()
	if _, ok, _ := st2.GetDedup(ctx, "stale"); ok {
		t.Fatal("expired dedup key survived reload")
	}
}

func TestGetDedupExpiredInProcess(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, t.TempDir())
	defer st.Close()
	ctx := context.Background()

	if err := st.PutDedup(ctx, "stale", time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := st.GetDedup(ctx, "stale"); ok || err != nil {
		t.Fatalf("expired key still seen: ok=%v err=%v", ok, err)
	}

	if err := st.PutDedup(ctx, "fresh", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.GetDedup(ctx, "fresh"); !ok {
		t.Fatal("fresh key not seen")
	}
}

func TestGetDedupMissing(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, t.TempDir())
	defer st.Close()
	if _, ok, err := st.GetDedup(context.Background(), "nope"); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}
