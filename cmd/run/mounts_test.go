package main

import (
	"testing"
)

func TestParseMounts(t *testing.T) {
	grants, err := parseMounts([]byte(`
mounts:
  - guest: /data
    host: ./testdata
  - guest: /tmp
    host: /tmp/scratch
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("got %d grants, want 2", len(grants))
	}
	if grants[0].GuestName != "/data" || grants[0].HostPath != "./testdata" {
		t.Errorf("first grant = %+v", grants[0])
	}
	if grants[1].GuestName != "/tmp" || grants[1].HostPath != "/tmp/scratch" {
		t.Errorf("second grant = %+v", grants[1])
	}
}

func TestParseMounts_MissingField(t *testing.T) {
	_, err := parseMounts([]byte(`
mounts:
  - guest: /data
`))
	if err == nil {
		t.Fatal("expected error for mount without host")
	}
}

func TestParseMounts_BadYAML(t *testing.T) {
	if _, err := parseMounts([]byte("mounts: [")); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestDirFlags_Set(t *testing.T) {
	var d dirFlags
	if err := d.Set("/tmp::/tmp/scratch"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := d.Set(".::."); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(d) != 2 {
		t.Fatalf("got %d grants, want 2", len(d))
	}
	if d[0].GuestName != "/tmp" || d[0].HostPath != "/tmp/scratch" {
		t.Errorf("first grant = %+v", d[0])
	}

	if err := d.Set("no-separator"); err == nil {
		t.Error("expected error for value without ::")
	}
}
