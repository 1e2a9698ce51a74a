package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"gridreg/internal/blob/core"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()
	info, err := store.Put(ctx, "projects/conus_2022/registry.json", bytes.NewReader([]byte(`{"id":"conus_2022"}`)), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 19 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	got, rc, err := store.Get(ctx, "projects/conus_2022/registry.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != `{"id":"conus_2022"}` || got.ContentType != "application/json" {
		t.Fatalf("unexpected get %+v %s", got, b)
	}
	head, err := store.Head(ctx, "projects/conus_2022/registry.json")
	if err != nil || head.ETag != info.ETag {
		t.Fatalf("head: %v %+v", err, head)
	}
}

func TestStore_PutIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("a")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("b")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestStore_MissingKeyErrors(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotExist) {
		t.Fatalf("head miss = %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotExist) {
		t.Fatalf("get miss = %v", err)
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	store := New()
	for _, key := range []string{"datasets/b", "datasets/a", "projects/p"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "datasets/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "datasets/a" || list[1].Key != "datasets/b" {
		t.Fatalf("unexpected listing %+v", list)
	}
	ok, err := store.Delete(ctx, "datasets/a")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "datasets/a")
	if err != nil || ok {
		t.Fatalf("second delete should be false")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("immutable")), core.PutOptions{Metadata: map[string]string{"a": "b"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	b[0] = 'X'
	info.Metadata["a"] = "mutated"

	again, rc2, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	b2, _ := io.ReadAll(rc2)
	_ = rc2.Close()
	if string(b2) != "immutable" || again.Metadata["a"] != "b" {
		t.Fatalf("stored state was mutated: %s %+v", b2, again.Metadata)
	}
}

func TestStore_PresignUnsupported(t *testing.T) {
	if _, err := New().PresignURL(context.Background(), "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
