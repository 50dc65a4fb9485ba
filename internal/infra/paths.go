package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
)

const AppName = "sats-price"

// WorkspaceEnv overrides the workspace root. "~" is expanded.
const WorkspaceEnv = "SATS_WORKSPACE"

// portableDir, when present in the working directory, holds all runtime data
// next to the binary.
const portableDir = "_workspace"

// Workspace is the directory tree holding runtime data:
//
//	<root>/data/selection.db
//	<root>/logs/sats-price.log
//	<root>/instance.lock
//	<root>/panic_dump.json
type Workspace struct {
	Root string
}

// DefaultWorkspace resolves the workspace for this process. Precedence:
// $SATS_WORKSPACE, ./_workspace, then the per-user data directory of the OS.
func DefaultWorkspace() Workspace {
	if dir := os.Getenv(WorkspaceEnv); dir != "" {
		return Workspace{Root: expand(dir)}
	}
	if fi, err := os.Stat(portableDir); err == nil && fi.IsDir() {
		return Workspace{Root: portableDir}
	}
	base := dataHome(runtime.GOOS, os.Getenv)
	if base == "" {
		return Workspace{Root: portableDir}
	}
	return Workspace{Root: filepath.Join(base, AppName)}
}

// dataHome returns the per-user application data directory for goos, or ""
// when goos has no convention.
func dataHome(goos string, getenv func(string) string) string {
	switch goos {
	case "windows":
		if dir := getenv("APPDATA"); dir != "" {
			return dir
		}
		return filepath.Join(getenv("USERPROFILE"), "AppData", "Roaming")
	case "darwin":
		return expand("~/Library/Application Support")
	case "linux", "freebsd", "openbsd", "netbsd":
		if dir := getenv("XDG_DATA_HOME"); dir != "" {
			return dir
		}
		return expand("~/.local/share")
	default:
		return ""
	}
}

func expand(path string) string {
	if p, err := homedir.Expand(path); err == nil {
		path = p
	}
	return filepath.Clean(path)
}

// Join returns a path below the workspace root.
func (w Workspace) Join(elem ...string) string {
	return filepath.Join(append([]string{w.Root}, elem...)...)
}

func (w Workspace) DataDir() string  { return w.Join("data") }
func (w Workspace) LogDir() string   { return w.Join("logs") }
func (w Workspace) LogFile() string  { return w.Join("logs", AppName+".log") }
func (w Workspace) DumpPath() string { return w.Join("panic_dump.json") }
func (w Workspace) lockPath() string { return w.Join("instance.lock") }

// Prepare creates the data and log directories.
func (w Workspace) Prepare() error {
	for _, dir := range []string{w.DataDir(), w.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ErrLocked is returned by Lock while another process holds the workspace.
var ErrLocked = errors.New("workspace is locked by another instance")

// Lock claims the workspace so that a second process does not open the same
// selection database. The lock file records the owner's PID; the returned
// func releases it.
func (w Workspace) Lock() (func(), error) {
	path := w.lockPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			if pid := lockOwner(path); pid > 0 {
				return nil, fmt.Errorf("%w (pid %d, %s)", ErrLocked, pid, path)
			}
			return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
		}
		return nil, err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return nil, werr
	}
	return func() { os.Remove(path) }, nil
}

func lockOwner(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}

// ResolveConfigPath finds config.yaml: ./configs first, then the OS config
// directory. It falls back to ./configs/config.yaml when neither exists.
func ResolveConfigPath() string {
	local := filepath.Join("configs", "config.yaml")
	candidates := []string{local}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, AppName, "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return local
}
