package sync

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"gridreg/internal/blob"
	"gridreg/internal/lock"
	"gridreg/pkg/domain"
)

func putKey(t *testing.T, store blob.Store, key, payload string) {
	t.Helper()
	_, err := store.Put(context.Background(), key, strings.NewReader(payload), blob.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func readKey(t *testing.T, store blob.Store, key string) string {
	t.Helper()
	_, rc, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(raw)
}

func TestPullMirrorsRemoteAndSkipsLocks(t *testing.T) {
	ctx := context.Background()
	remote := blob.NewMemory()
	local := blob.NewMemory()
	keys := map[string]string{
		"configs/projects/stock_models/1.0.0.json":       `{"project_id":"stock_models"}`,
		"configs/dimensions/us_states/registration.json": `{"registration_history":[]}`,
		"data/datasets/comstock/1.0.0/load.csv":          "timestamp,value\n",
	}
	for k, v := range keys {
		putKey(t, remote, k, v)
	}
	putKey(t, remote, lock.Dir+"/projects.lock", `{"username":"someone"}`)

	eng := New(local, remote, WithWorkers(2))
	report, err := eng.Pull(ctx)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if report.Copied != 3 || report.Unchanged != 0 || report.Deleted != 0 {
		t.Fatalf("expected 3 copies, got %+v", report)
	}
	var want int64
	for k, v := range keys {
		want += int64(len(v))
		if got := readKey(t, local, k); got != v {
			t.Fatalf("key %s: expected %q, got %q", k, v, got)
		}
	}
	if report.Bytes != want {
		t.Fatalf("expected %d bytes copied, got %d", want, report.Bytes)
	}
	if _, err := local.Head(ctx, lock.Dir+"/projects.lock"); err == nil {
		t.Fatal("expected lock file to stay on the remote only")
	}

	report, err = eng.Pull(ctx)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if report.Copied != 0 || report.Unchanged != 3 {
		t.Fatalf("expected an unchanged second pull, got %+v", report)
	}
}

func TestPullRefreshesChangedKeys(t *testing.T) {
	ctx := context.Background()
	remote := blob.NewMemory()
	local := blob.NewMemory()
	putKey(t, remote, "configs/projects/stock_models/registration.json", "rev-1")
	putKey(t, remote, "configs/projects/stock_models/1.0.0.json", "stable")

	eng := New(local, remote)
	if _, err := eng.Pull(ctx); err != nil {
		t.Fatalf("initial pull: %v", err)
	}

	// Same byte length as rev-1, so only the content hash can tell them apart.
	if _, err := remote.Delete(ctx, "configs/projects/stock_models/registration.json"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	putKey(t, remote, "configs/projects/stock_models/registration.json", "rev-2")

	report, err := eng.Pull(ctx)
	if err != nil {
		t.Fatalf("pull after remote change: %v", err)
	}
	if report.Copied != 1 || report.Unchanged != 1 {
		t.Fatalf("expected one refreshed key, got %+v", report)
	}
	if got := readKey(t, local, "configs/projects/stock_models/registration.json"); got != "rev-2" {
		t.Fatalf("expected refreshed content rev-2, got %q", got)
	}
}

func TestPushPrunesStaleRemoteKeys(t *testing.T) {
	ctx := context.Background()
	remote := blob.NewMemory()
	local := blob.NewMemory()
	putKey(t, local, "configs/dimensions/us_states/1.0.0.json", "new")
	putKey(t, local, "configs/dimensions/us_counties/1.0.0.json", "same")
	putKey(t, remote, "configs/dimensions/us_counties/1.0.0.json", "same")
	putKey(t, remote, "configs/dimensions/removed_dim/1.0.0.json", "stale")
	putKey(t, remote, lock.Dir+"/datasets.lock", `{"username":"someone"}`)

	eng := New(local, remote, WithPrune(true))
	report, err := eng.Push(ctx)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.Copied != 1 || report.Unchanged != 1 || report.Deleted != 1 {
		t.Fatalf("expected copy/keep/prune of one key each, got %+v", report)
	}
	if _, err := remote.Head(ctx, "configs/dimensions/removed_dim/1.0.0.json"); err == nil {
		t.Fatal("expected stale remote key to be pruned")
	}
	if got := readKey(t, remote, "configs/dimensions/us_states/1.0.0.json"); got != "new" {
		t.Fatalf("expected pushed content, got %q", got)
	}
	if _, err := remote.Head(ctx, lock.Dir+"/datasets.lock"); err != nil {
		t.Fatalf("expected foreign lock file to survive pruning, got %v", err)
	}
}

func TestOfflineSyncIsNoOp(t *testing.T) {
	ctx := context.Background()
	remote := blob.NewMemory()
	local := blob.NewMemory()
	putKey(t, remote, "configs/projects/stock_models/registration.json", "remote-only")
	putKey(t, local, "configs/projects/local_only/registration.json", "local-only")

	eng := New(local, remote, WithOffline(true))
	report, err := eng.Pull(ctx)
	if err != nil {
		t.Fatalf("offline pull: %v", err)
	}
	if report != (Report{}) {
		t.Fatalf("expected empty offline report, got %+v", report)
	}
	if _, err := local.Head(ctx, "configs/projects/stock_models/registration.json"); err == nil {
		t.Fatal("expected offline pull to copy nothing")
	}
	if report, err = eng.Push(ctx); err != nil || report != (Report{}) {
		t.Fatalf("expected empty offline push, got %+v, %v", report, err)
	}
	if _, err := remote.Head(ctx, "configs/projects/local_only/registration.json"); err == nil {
		t.Fatal("expected offline push to copy nothing")
	}
}

func TestPushUnderRemoteLocks(t *testing.T) {
	ctx := context.Background()
	remote := blob.NewMemory()
	local := blob.NewMemory()
	putKey(t, local, "configs/projects/stock_models/registration.json", "v1")

	publisher := lock.NewManager(remote, "publisher")
	eng := New(local, remote, WithPushLocks(publisher))
	report, err := eng.Push(ctx)
	if err != nil {
		t.Fatalf("locked push: %v", err)
	}
	if report.Copied != 1 {
		t.Fatalf("expected one pushed key, got %+v", report)
	}
	held, err := publisher.List(ctx)
	if err != nil {
		t.Fatalf("list locks: %v", err)
	}
	if len(held) != 0 {
		t.Fatalf("expected all push locks released, got %d held", len(held))
	}

	rival := lock.NewManager(remote, "rival")
	if _, err := rival.Acquire(ctx, "dimensions.lock"); err != nil {
		t.Fatalf("rival acquire: %v", err)
	}
	_, err = eng.Push(ctx)
	var contended domain.ErrLockContended
	if !errors.As(err, &contended) {
		t.Fatalf("expected ErrLockContended, got %v", err)
	}
	if contended.Holder != "rival" {
		t.Fatalf("expected holder rival, got %q", contended.Holder)
	}
	held, err = publisher.List(ctx)
	if err != nil {
		t.Fatalf("list locks after contention: %v", err)
	}
	if len(held) != 1 || held[0].Record.Username != "rival" {
		t.Fatalf("expected only the rival lock to remain, got %+v", held)
	}
}
