package fanout

import (
	"testing"

	"github.com/unkn0wn-root/fieldsync"
)

type counter struct {
	fieldsync.NopHooks
	served int
}

func (c *counter) Served(string, string) { c.served++ }

func TestFanOut(t *testing.T) {
	a, b := &counter{}, &counter{}
	h := New(a, nil, b)
	h.Served("api_query", "hit")
	h.SyncSettled("sync-files", nil)
	if a.served != 1 || b.served != 1 {
		t.Fatalf("a=%d b=%d", a.served, b.served)
	}
}

func TestNewCollapses(t *testing.T) {
	if _, ok := New().(fieldsync.NopHooks); !ok {
		t.Fatalf("empty fan-out should be NopHooks")
	}
	a := &counter{}
	if New(nil, a) != fieldsync.Hooks(a) {
		t.Fatalf("single hook should be returned as is")
	}
}
