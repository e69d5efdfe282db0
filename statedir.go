package ipcdir

// statedir.go resolves the namespace root for an addressing domain and
// provisions its directory hierarchy.

import (
	"os"
	"path/filepath"

	log "github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// Domain selects which namespace a service is addressed in.
type Domain int

const (
	// UnknownDomain is an invalid zero value.
	UnknownDomain Domain = iota

	// System is the machine-wide namespace rooted at SystemRoot. Only a
	// superuser caller provisions it; everyone else relies on an operator
	// having done so.
	System

	// User is a per-user namespace rooted in the caller's home directory.
	User
)

// SystemRoot is the fixed root of the System namespace.
const SystemRoot = "/var/run/ipc"

// dirMode is the mode namespace directories are created with.
const dirMode = 0755

// Config carries everything Resolve needs to know about the caller. Nothing
// is read from the ambient environment inside Resolve itself; DefaultConfig
// fills these from the calling process and tests inject their own values.
type Config struct {
	// Domain picks the namespace.
	Domain Domain

	// Root, if set, overrides the namespace root entirely. This is how tests
	// and embedders isolate themselves from /var/run/ipc and $HOME.
	Root string

	// HomeDir is the caller's home directory. Used by the User domain when
	// Root is unset; absence is a configuration error.
	HomeDir string

	// EUID is the caller's effective user id. The System namespace is only
	// provisioned when it is 0.
	EUID int
}

// DefaultConfig returns a Config for domain filled in from the calling
// process's environment and identity.
func DefaultConfig(domain Domain) Config {
	return Config{
		Domain:  domain,
		HomeDir: os.Getenv("HOME"),
		EUID:    os.Geteuid(),
	}
}

// Resolve computes the statedir root for cfg and ensures its substructure
// (the services and pidfiles directories) exists where the caller is allowed
// to create it.
func Resolve(cfg Config) (string, error) {
	switch cfg.Domain {
	case System:
		root := cfg.Root
		if root == "" {
			root = SystemRoot
		}
		if cfg.EUID == 0 {
			if err := provision(root); err != nil {
				log.Errorf("statedir setup of %s failed: %v", root, err)
				return "", err
			}
		}
		// Unprivileged callers never create the system namespace; a bind or
		// connect below us fails if no operator has provisioned it.
		return root, nil
	case User:
		root := cfg.Root
		if root == "" {
			if cfg.HomeDir == "" {
				log.Errorf("no home directory available for user domain")
				return "", &Error{Kind: KindNameInvalid, Op: "resolve", Path: "$HOME"}
			}
			root = filepath.Join(cfg.HomeDir, ".ipc")
		}
		if err := provision(root); err != nil {
			return "", err
		}
		return root, nil
	default:
		log.Errorf("unsupported domain: %d", cfg.Domain)
		return "", &Error{Kind: KindArgInvalid, Op: "resolve"}
	}
}

// provision builds the statedir hierarchy one level at a time. Each level
// must exist before the next is attempted.
func provision(root string) error {
	for _, p := range []string{root, filepath.Join(root, "services"), filepath.Join(root, "pidfiles")} {
		if err := mkdirIfMissing(p, dirMode); err != nil {
			return err
		}
	}
	return nil
}

// mkdirIfMissing creates path with mode if a traverse probe says it does not
// exist. An existing directory is accepted as-is, whatever its mode. Two
// callers racing here is fine: the loser's create fails EEXIST, which is
// success as far as we are concerned.
func mkdirIfMissing(path string, mode uint32) error {
	err := unix.Access(path, unix.X_OK)
	if err == nil {
		return nil
	}
	if err != unix.ENOENT {
		log.Errorf("access(2) of %s: %v", path, err)
		return osErr("access", path, err)
	}
	if err := unix.Mkdir(path, mode); err != nil {
		if err == unix.EEXIST {
			return nil
		}
		log.Errorf("mkdir(2) of %s: %v", path, err)
		return osErr("mkdir", path, err)
	}
	return nil
}
