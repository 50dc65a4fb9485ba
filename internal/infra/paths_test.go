package infra

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestDataHome(t *testing.T) {
	env := func(m map[string]string) func(string) string {
		return func(k string) string { return m[k] }
	}

	tests := []struct {
		name string
		goos string
		env  map[string]string
		want string
	}{
		{"windows appdata", "windows", map[string]string{"APPDATA": `C:\Users\a\AppData\Roaming`}, `C:\Users\a\AppData\Roaming`},
		{"windows profile", "windows", map[string]string{"USERPROFILE": "/u"}, filepath.Join("/u", "AppData", "Roaming")},
		{"linux xdg", "linux", map[string]string{"XDG_DATA_HOME": "/xdg"}, "/xdg"},
		{"plan9", "plan9", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dataHome(tt.goos, env(tt.env)); got != tt.want {
				t.Errorf("dataHome(%s) = %q, want %q", tt.goos, got, tt.want)
			}
		})
	}

	// Without XDG_DATA_HOME the home-relative default is expanded.
	if got := dataHome("linux", env(nil)); strings.HasPrefix(got, "~") || !strings.HasSuffix(got, filepath.Join(".local", "share")) {
		t.Errorf("linux default = %q", got)
	}
}

func TestDefaultWorkspace_Env(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(WorkspaceEnv, filepath.Join(dir, "ws", "..", "ws"))

	ws := DefaultWorkspace()
	if ws.Root != filepath.Join(dir, "ws") {
		t.Fatalf("root = %q", ws.Root)
	}
	if ws.DataDir() != filepath.Join(dir, "ws", "data") {
		t.Errorf("data dir = %q", ws.DataDir())
	}
	if ws.LogFile() != filepath.Join(dir, "ws", "logs", "sats-price.log") {
		t.Errorf("log file = %q", ws.LogFile())
	}
}

func TestWorkspace_Prepare(t *testing.T) {
	ws := Workspace{Root: filepath.Join(t.TempDir(), "nested", "root")}
	if err := ws.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for _, dir := range []string{ws.DataDir(), ws.LogDir()} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}

func TestWorkspace_Lock(t *testing.T) {
	ws := Workspace{Root: t.TempDir()}

	unlock, err := ws.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	b, err := os.ReadFile(ws.lockPath())
	if err != nil || string(b) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock file = %q, %v", b, err)
	}

	_, err = ws.Lock()
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second Lock: got %v, want ErrLocked", err)
	}
	if !strings.Contains(err.Error(), "pid "+strconv.Itoa(os.Getpid())) {
		t.Errorf("error should name the owner: %v", err)
	}

	unlock()
	unlock2, err := ws.Lock()
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	unlock2()
}

func TestWorkspace_LockMissingRoot(t *testing.T) {
	ws := Workspace{Root: filepath.Join(t.TempDir(), "absent")}
	if _, err := ws.Lock(); err == nil || errors.Is(err, ErrLocked) {
		t.Errorf("Lock on a missing root: got %v", err)
	}
}
