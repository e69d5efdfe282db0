package ipcdir

import (
	"fmt"
	"path/filepath"
)

const (
	// MaxName is the maximum length of a service name in bytes.
	MaxName = 63

	// maxSunPath is the size of sockaddr_un.sun_path on Linux. Other systems
	// differ slightly, but 108 is the safe floor and the errors you get past
	// it (like "bind: invalid argument" on OSX) are non-sensical, so it is
	// enforced here for everyone. https://github.com/golang/go/issues/6895
	maxSunPath = 108
)

// ValidateName checks a candidate service name before any filesystem or
// socket operation is attempted. Names must be non-empty, at most MaxName
// bytes, must not begin with '.', and must not contain '/' or ','. The comma
// is rejected because it separates name from version in the socket path.
func ValidateName(name string) error {
	if len(name) > MaxName {
		return &Error{Kind: KindNameTooLong, Op: "validate", Path: name}
	}
	if len(name) == 0 {
		return &Error{Kind: KindNameInvalid, Op: "validate"}
	}
	if name[0] == '.' {
		return &Error{Kind: KindNameInvalid, Op: "validate", Path: name}
	}
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '/', ',':
			return &Error{Kind: KindNameInvalid, Op: "validate", Path: name}
		}
	}
	return nil
}

// SocketPath returns the filesystem address a service with name and version
// occupies inside statedir. Two processes computing this for the same inputs
// rendezvous at the same socket file.
func SocketPath(statedir, name string, version int) string {
	return filepath.Join(statedir, "services", fmt.Sprintf("%s,%d", name, version))
}

// encodeAddr is SocketPath plus the transport capacity check. The limit is a
// real constraint of AF_UNIX addresses, not of this package.
func encodeAddr(statedir, name string, version int) (string, error) {
	p := SocketPath(statedir, name, version)
	if len(p) >= maxSunPath {
		return "", &Error{Kind: KindNameTooLong, Op: "encode", Path: p}
	}
	return p, nil
}
