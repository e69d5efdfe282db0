/*
Package pidfile records which process has a service bound. It implements the
Pidfiles collaborator of the ipcdir package: a pidfile lives at
<statedir>/pidfiles/<name>,<version> and contains the pid of the process that
bound the service. It is written after a successful bind and removed when the
service closes.

Nothing in ipcdir requires pidfiles; pass an FS to ipcdir.WithPidfiles if you
want them, for tooling that answers "who has this service" or for detecting
servers that died without cleaning up their socket file (see Stale).
*/
package pidfile

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/process"
)

// FS stores pidfiles inside a statedir's pidfiles directory.
type FS struct{}

// Path returns the pidfile path for a service in statedir.
func (FS) Path(statedir, name string, version int) string {
	return filepath.Join(statedir, "pidfiles", fmt.Sprintf("%s,%d", name, version))
}

// Record writes the calling process's pid for the service. An existing
// pidfile is overwritten; whoever bound the socket owns the identity.
func (f FS) Record(statedir, name string, version int) error {
	p := f.Path(statedir, name, version)
	return ioutil.WriteFile(p, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// Remove deletes the service's pidfile.
func (f FS) Remove(statedir, name string, version int) error {
	return os.Remove(f.Path(statedir, name, version))
}

// Pid reads the pid recorded for the service.
func (f FS) Pid(statedir, name string, version int) (int, error) {
	b, err := ioutil.ReadFile(f.Path(statedir, name, version))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("pidfile for %s,%d is corrupt: %w", name, version, err)
	}
	return pid, nil
}

// Stale reports whether the recorded process no longer exists. A stale
// pidfile usually means the server died uncleanly and left a dangling socket
// file blocking rebinds.
func (f FS) Stale(statedir, name string, version int) (bool, error) {
	pid, err := f.Pid(statedir, name, version)
	if err != nil {
		return false, err
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false, err
	}
	return !alive, nil
}
