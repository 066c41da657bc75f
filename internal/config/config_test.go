package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FIELDSYNC_UPSTREAM", "https://app.example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8787" || cfg.Version != "v1" || cfg.CacheBackend != "memory" || cfg.QueueBackend != "sqlite" || cfg.CacheCodec != "msgpack" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.DataSyncTimeout != 30*time.Second || cfg.FileSyncTimeout != time.Minute || cfg.SyncMaxAttempts != 3 {
		t.Fatalf("sync defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadLists(t *testing.T) {
	t.Setenv("FIELDSYNC_PRECACHE", "https://app.test/,https://app.test/offline.html")
	t.Setenv("FIELDSYNC_VOLATILE", "/api/auth,/api/chat")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Precache) != 2 || cfg.Volatile[1] != "/api/chat" {
		t.Fatalf("lists = %v %v", cfg.Precache, cfg.Volatile)
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("FIELDSYNC_MAX_ATTEMPTS", "lots")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Upstream:        "app.example.com",
		CacheBackend:    "badger",
		QueueBackend:    "kafka",
		CacheCodec:      "gob",
		GenStore:        "local",
		DataSyncTimeout: time.Second,
		FileSyncTimeout: time.Second,
		MaxAttempts:     1,
		SyncMaxAttempts: 1,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"not an absolute URL", "version is required", "queue backend", "cache codec", "FIELDSYNC_BADGER_DIR"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestPrecacheURLsResolveAgainstUpstream(t *testing.T) {
	cfg := Config{
		Upstream: "https://app.example.com/base/",
		Precache: []string{"/index.html", "offline.html", "https://cdn.example.com/app.js"},
	}
	got, err := cfg.PrecacheURLs()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"https://app.example.com/index.html",
		"https://app.example.com/base/offline.html",
		"https://cdn.example.com/app.js",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("got %v", got)
	}

	cfg.Precache = []string{"%zz"}
	if _, err := cfg.PrecacheURLs(); err == nil {
		t.Fatal("expected error for unparsable entry")
	}
}

func TestValidateRejectsBadPrecacheEntry(t *testing.T) {
	t.Setenv("FIELDSYNC_UPSTREAM", "https://app.example.com")
	t.Setenv("FIELDSYNC_PRECACHE", "/ok.html,%zz")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "precache entry") {
		t.Fatalf("err = %v", err)
	}
}
