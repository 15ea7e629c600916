package backend

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/readback"
)

// fakeBackend is a minimal ReadbackBackend for registry tests.
type fakeBackend struct {
	name    string
	initErr error
	inited  bool
}

func (b *fakeBackend) Name() string            { return b.name }
func (b *fakeBackend) Close() error            { b.inited = false; return nil }
func (b *fakeBackend) Device() readback.Device { return nil }

func (b *fakeBackend) Init() error {
	if b.initErr != nil {
		return b.initErr
	}
	b.inited = true
	return nil
}

func (b *fakeBackend) NewImage(int, int, []byte) (gpucontext.Texture, error) {
	return nil, ErrNotInitialized
}

func register(t *testing.T, name string, initErr error) {
	t.Helper()
	Register(name, func() ReadbackBackend {
		return &fakeBackend{name: name, initErr: initErr}
	})
	t.Cleanup(func() { Unregister(name) })
}

func TestRegistryRegisterAndGet(t *testing.T) {
	register(t, BackendSoftware, nil)

	if !IsRegistered(BackendSoftware) {
		t.Error("software backend should be registered")
	}
	b := Get(BackendSoftware)
	if b == nil {
		t.Fatal("Get(software) returned nil")
	}
	if b.Name() != BackendSoftware {
		t.Errorf("Get(software).Name() = %q, want %q", b.Name(), BackendSoftware)
	}
}

func TestRegistryGetUnregistered(t *testing.T) {
	if b := Get("nonexistent"); b != nil {
		t.Error("Get(nonexistent) should return nil")
	}
}

func TestRegistryAvailable(t *testing.T) {
	register(t, "test-available", nil)

	found := false
	for _, name := range Available() {
		if name == "test-available" {
			found = true
			break
		}
	}
	if !found {
		t.Error("Available() should include 'test-available'")
	}
}

func TestRegistryDefaultPriority(t *testing.T) {
	register(t, BackendSoftware, nil)
	register(t, BackendNative, nil)

	b := Default()
	if b == nil {
		t.Fatal("Default() returned nil")
	}
	if b.Name() != BackendNative {
		t.Errorf("Default().Name() = %q, want %q", b.Name(), BackendNative)
	}
}

func TestRegistryInitDefaultFallsBack(t *testing.T) {
	register(t, BackendNative, errors.New("no adapter"))
	register(t, BackendSoftware, nil)

	b, err := InitDefault()
	if err != nil {
		t.Fatalf("InitDefault() error = %v", err)
	}
	defer b.Close()

	if b.Name() != BackendSoftware {
		t.Errorf("InitDefault().Name() = %q, want %q", b.Name(), BackendSoftware)
	}
	if !b.(*fakeBackend).inited {
		t.Error("backend from InitDefault() should be initialized")
	}
}

func TestRegistryInitDefaultNone(t *testing.T) {
	register(t, BackendNative, errors.New("no adapter"))
	Unregister(BackendSoftware)

	_, err := InitDefault()
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("InitDefault() error = %v, want ErrBackendNotAvailable", err)
	}
	if err == nil || !strings.Contains(err.Error(), "no adapter") {
		t.Errorf("InitDefault() error = %v, want the Init failure included", err)
	}
}

func TestRegistryInitDefaultLogsSkippedBackend(t *testing.T) {
	orig := readback.Logger()
	t.Cleanup(func() { readback.SetLogger(orig) })
	var buf bytes.Buffer
	readback.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	register(t, BackendNative, errors.New("no adapter"))
	register(t, BackendSoftware, nil)

	b, err := InitDefault()
	if err != nil {
		t.Fatalf("InitDefault() error = %v", err)
	}
	defer b.Close()

	out := buf.String()
	for _, want := range []string{"backend: init failed", "name=" + BackendNative, "no adapter"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestRegistryInitDefaultEmpty(t *testing.T) {
	Unregister(BackendNative)
	Unregister(BackendSoftware)

	if _, err := InitDefault(); err != ErrBackendNotAvailable {
		t.Errorf("InitDefault() error = %v, want bare ErrBackendNotAvailable", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	Register("test-backend", func() ReadbackBackend {
		return &fakeBackend{name: "test-backend"}
	})
	if !IsRegistered("test-backend") {
		t.Error("test-backend should be registered")
	}

	Unregister("test-backend")

	if IsRegistered("test-backend") {
		t.Error("test-backend should be unregistered")
	}
}
