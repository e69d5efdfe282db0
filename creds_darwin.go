// +build darwin

package ipcdir

import (
	"fmt"
	"net"
	"os/user"
	"strconv"

	"github.com/shirou/gopsutil/process"
	"golang.org/x/sys/unix"
)

const (
	syscall_SOL_LOCAL     = 0
	syscall_LOCAL_PEERPID = 2
)

// readCreds returns the credentials of the process on the other end of conn.
// Darwin has no SO_PEERCRED; we fetch the peer pid and resolve its uid/gid
// through the process table.
func readCreds(conn *net.UnixConn) (Cred, error) {
	var pid int

	// Fetches raw network connection from UnixConn
	raw, err := conn.SyscallConn()
	if err != nil {
		return Cred{}, fmt.Errorf("error opening raw connection: %s", err)
	}

	var pidErr error
	err = raw.Control(
		func(fd uintptr) {
			pid, pidErr = unix.GetsockoptInt(int(fd), syscall_SOL_LOCAL, syscall_LOCAL_PEERPID)
		},
	)

	if err != nil {
		return Cred{}, fmt.Errorf("Control() error: %s", err)
	}

	if pidErr != nil {
		return Cred{}, osErr("getsockopt", "", pidErr)
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Cred{}, fmt.Errorf("could not find PID of the connection's peer: %w", err)
	}

	uids, err := proc.Uids()
	if err != nil || len(uids) == 0 {
		return Cred{}, fmt.Errorf("could not find UIDs associated with peer PID(%v): %w", pid, err)
	}

	u, err := user.LookupId(strconv.Itoa(int(uids[0])))
	if err != nil {
		return Cred{}, fmt.Errorf("could not lookup UID(%v) for peer PID(%v): %w", uids[0], pid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Cred{}, fmt.Errorf("could not lookup GID for UID(%v) PID(%v): %w", uids[0], pid, err)
	}

	return Cred{PID: ID(pid), UID: ID(uids[0]), GID: ID(gid)}, nil
}
