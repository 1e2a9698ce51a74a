package testutil

import (
	"context"
	"strings"
	"testing"
)

func TestStubUpsertAndSelect(t *testing.T) {
	db, conn := NewStubDB()
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (bucket TEXT PRIMARY KEY, payload JSONB NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, "projects", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, "projects", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if got := string(conn.State["projects"]); got != `{"a":2}` {
		t.Fatalf("upsert did not replace payload: %s", got)
	}

	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer func() { _ = rows.Close() }()
	count := 0
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if bucket != "projects" || string(payload) != `{"a":2}` {
			t.Fatalf("row = %s %s", bucket, payload)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("rows = %d", count)
	}
}

func TestStubRejectsUnknownQuery(t *testing.T) {
	db, _ := NewStubDB()
	if _, err := db.QueryContext(context.Background(), `SELECT * FROM widgets`); err == nil || !strings.Contains(err.Error(), "cannot answer") {
		t.Fatalf("expected unknown query error, got %v", err)
	}
}
