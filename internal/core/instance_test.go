package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/fnhost/internal/procproto"
)

func TestSharedInstanceVerifiesOnce(t *testing.T) {
	t.Parallel()

	port := uint32(8080)
	inst := &SharedInstance{app: "calc"}
	first := &procproto.AppStarted{AppID: "calc", HTTPPort: &port}

	if inst.Verified() != nil {
		t.Fatal("new instance is already verified")
	}
	if _, ok := inst.HTTPPort(); ok {
		t.Error("HTTPPort() reported a port before verification")
	}

	if err := inst.verify(first); err != nil {
		t.Fatalf("first verify() error = %v", err)
	}
	if err := inst.verify(&procproto.AppStarted{AppID: "calc"}); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("second verify() error = %v, want %v", err, ErrAlreadyVerified)
	}
	if inst.Verified() != first {
		t.Error("second verify() replaced the accepted record")
	}
	if got, ok := inst.HTTPPort(); !ok || got != port {
		t.Errorf("HTTPPort() = (%d, %v), want (%d, true)", got, ok, port)
	}
}

func TestVerifyEntry(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		entry   func() EachAppCache
		wantErr error
	}{
		"missing": {
			entry:   func() EachAppCache { return nil },
			wantErr: ErrAppNotLoaded,
		},
		"owned": {
			entry: func() EachAppCache {
				return &ownedAppCache{pool: NewPool(PoolConfig{Limit: 1, Capacity: 1, Factory: (&fakeFactory{}).new})}
			},
			wantErr: ErrNotShared,
		},
		"shared": {
			entry: func() EachAppCache { return &sharedAppCache{inst: &SharedInstance{app: "calc"}} },
		},
		"shared and verified": {
			entry: func() EachAppCache {
				inst := &SharedInstance{app: "calc"}
				inst.verified.Store(&procproto.AppStarted{AppID: "calc"})
				return &sharedAppCache{inst: inst}
			},
			wantErr: ErrAlreadyVerified,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := verifyEntry(tc.entry(), &procproto.AppStarted{AppID: "calc"})
			if !errors.Is(err, tc.wantErr) || (tc.wantErr == nil && err != nil) {
				t.Fatalf("verifyEntry() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestOwnedInstanceCloseWrapsError(t *testing.T) {
	t.Parallel()

	sb := &fakeSandbox{}
	inst := &OwnedInstance{app: "calc", sandbox: sb, id: 7}
	if err := inst.close(); err != nil {
		t.Fatalf("close() error = %v", err)
	}
	err := inst.close()
	if err == nil {
		t.Fatal("second close() error = nil, want an error")
	}
	if want := "close sandbox calc/7"; !strings.HasPrefix(err.Error(), want) {
		t.Errorf("close() error = %q, want prefix %q", err, want)
	}
}

func TestExecArena(t *testing.T) {
	t.Parallel()

	a := newExecArena()
	first := &ExecContext{Kind: ExecSync, App: "calc", Func: "add", Started: time.Now()}
	second := &ExecContext{Kind: ExecAsync, App: "calc", Func: "mul"}

	h1 := a.insert("calc/0", first)
	h2 := a.insert("calc/1", second)

	if got, ok := a.get(h1); !ok || got != first {
		t.Fatalf("get(h1) = (%v, %v), want first", got, ok)
	}
	if got, ok := a.lookup("calc/1"); !ok || got != second {
		t.Fatalf("lookup(calc/1) = (%v, %v), want second", got, ok)
	}

	if !a.remove(h1) {
		t.Fatal("remove(h1) = false")
	}
	if a.remove(h1) {
		t.Error("second remove(h1) = true")
	}
	if _, ok := a.get(h1); ok {
		t.Error("get(h1) found a removed entry")
	}
	if _, ok := a.lookup("calc/0"); ok {
		t.Error("lookup found a removed key")
	}

	// the freed slot is reused, but the stale handle must not see the new
	// entry
	third := &ExecContext{Kind: ExecSync, App: "echo"}
	h3 := a.insert("echo/0", third)
	if h3.index != h1.index {
		t.Errorf("insert reused slot %d, want %d", h3.index, h1.index)
	}
	if _, ok := a.get(h1); ok {
		t.Error("stale handle addresses the reused slot")
	}
	if got, ok := a.get(h3); !ok || got != third {
		t.Errorf("get(h3) = (%v, %v), want third", got, ok)
	}
	if got, ok := a.get(h2); !ok || got != second {
		t.Errorf("get(h2) = (%v, %v), want second", got, ok)
	}
	if a.len() != 2 {
		t.Errorf("len() = %d, want 2", a.len())
	}
}

func TestExecArenaSharedKey(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		removeOlder bool
		want        string
	}{
		"newer finishes first": {removeOlder: false, want: "older"},
		"older finishes first": {removeOlder: true, want: "newer"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a := newExecArena()
			older := &ExecContext{Kind: ExecSync, App: "calc", Func: "older"}
			newer := &ExecContext{Kind: ExecSync, App: "calc", Func: "newer"}
			hOlder := a.insert("calc/0", older)
			hNewer := a.insert("calc/0", newer)

			if got, ok := a.lookup("calc/0"); !ok || got != newer {
				t.Fatalf("lookup() = (%v, %v), want the newer entry", got, ok)
			}

			done := hNewer
			if tc.removeOlder {
				done = hOlder
			}
			if !a.remove(done) {
				t.Fatal("remove() = false")
			}
			got, ok := a.lookup("calc/0")
			if !ok || got.Func != tc.want {
				t.Fatalf("lookup() after remove = (%v, %v), want %s", got, ok, tc.want)
			}

			a.remove(hOlder)
			a.remove(hNewer)
			if _, ok := a.lookup("calc/0"); ok {
				t.Error("lookup() found an entry after both were removed")
			}
		})
	}
}

func TestExecKindString(t *testing.T) {
	t.Parallel()

	tests := map[ExecKind]string{
		ExecSync:    "sync",
		ExecAsync:   "async",
		ExecKind(9): "ExecKind(9)",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("ExecKind(%d).String() = %q, want %q", uint8(kind), got, want)
		}
	}
}
