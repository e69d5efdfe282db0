/*
Package ipcdir provides a naming layer for local inter-process communication
over Unix Domain Sockets. A server registers itself under a human readable
name plus an integer version and clients connect using the same two pieces of
information; neither side agrees on a filesystem path in advance. It is the
single-machine analogue of a service directory.

Services rendezvous inside a statedir, selected by a Domain: System uses a
fixed machine-wide root, User a root inside the caller's home directory. The
statedir holds a services directory of bound sockets and a pidfiles directory
for the optional pidfile collaborator.

Usage is fairly straight forward:

	serv, err := ipcdir.Bind(ipcdir.User, "echo", 0)
	if err != nil {
		// Do something
	}
	for {
		conn, err := serv.Accept()
		if err != nil {
			// Do something
		}
		go handle(conn)
	}

and on the client side:

	conn, err := ipcdir.Dial(ipcdir.User, "echo", 0)

This package only gets two connected endpoints into each other's hands and
removes the socket file when the server closes. There is no framing, no
request/response semantics and no retries; layer those on top.

Unix/Linux Note:

	Socket paths may have a length limit that is different than the normal
	filesystem. On Linux there is a 108 character limit for path names, which
	this package enforces everywhere so you get a readable error instead of
	interpreting non-sensical ones.
*/
package ipcdir

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"

	log "github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// listenBacklog is the connection backlog requested on bound sockets.
const listenBacklog = 1024

// ID represents a numeric ID. Go in various libraries stores IDs such as Uid
// or Gid as strings, while OS specific libraries use int or int32. This
// simply unifies that so it is easier to translate for whatever need you
// have.
type ID int

// String returns the ID as a string.
func (i ID) String() string {
	return strconv.Itoa(int(i))
}

// Int returns the ID as an int.
func (i ID) Int() int {
	return int(i)
}

// Int32 returns the ID as an int32.
func (i ID) Int32() int32 {
	return int32(i)
}

// Cred holds the credentials of a process on the other end of a connection,
// as recorded by the kernel when the connection was made.
type Cred struct {
	// PID is the process id of the process. Not available on all platforms,
	// in which case it is -1.
	PID ID
	// UID is the user id of the process.
	UID ID
	// GID is the group id of the process.
	GID ID
}

// Current provides the credentials and user record of the current process.
// Useful for comparing against a peer's Cred.
func Current() (Cred, *user.User, error) {
	u, err := user.Current()
	if err != nil {
		return Cred{}, nil, err
	}

	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)

	cred := Cred{
		PID: ID(os.Getpid()),
		UID: ID(uid),
		GID: ID(gid),
	}
	return cred, u, nil
}

// Pidfiles is an optional collaborator that records which process has a
// service bound. Bind calls Record after the socket is listening and
// Server.Close calls Remove. A nil Pidfiles is a no-op.
type Pidfiles interface {
	Record(statedir, name string, version int) error
	Remove(statedir, name string, version int) error
}

type opts struct {
	root     string
	pidfiles Pidfiles
}

// Option is an optional argument to Bind, Dial and WaitReady.
type Option func(o *opts)

// WithRoot overrides the statedir root for the chosen Domain. Mostly useful
// for tests and embedders that want an isolated namespace.
func WithRoot(root string) Option {
	return func(o *opts) {
		o.root = root
	}
}

// WithPidfiles sets the pidfile collaborator invoked on Bind and Close.
func WithPidfiles(p Pidfiles) Option {
	return func(o *opts) {
		o.pidfiles = p
	}
}

// Bind registers a service under (domain, name, version) and returns the
// listening endpoint. The caller owns the returned Server and must Close it
// to remove the socket file from the statedir. If a previous holder of this
// identity went away without closing, the stale file is NOT cleaned up here
// and the bind fails with EADDRINUSE until it is removed.
func Bind(domain Domain, name string, version int, options ...Option) (*Server, error) {
	var opt opts
	for _, o := range options {
		o(&opt)
	}

	if err := ValidateName(name); err != nil {
		log.Errorf("invalid service name %q: %v", name, err)
		return nil, err
	}

	cfg := DefaultConfig(domain)
	cfg.Root = opt.root
	dir, err := Resolve(cfg)
	if err != nil {
		log.Errorf("unable to get statedir: %v", err)
		return nil, err
	}

	addr, err := encodeAddr(dir, name, version)
	if err != nil {
		return nil, err
	}

	l, err := listenUnix(addr)
	if err != nil {
		return nil, err
	}

	if opt.pidfiles != nil {
		if err := opt.pidfiles.Record(dir, name, version); err != nil {
			log.Errorf("pidfile record for %s,%d: %v", name, version, err)
			l.Close()
			os.Remove(addr)
			return nil, err
		}
	}

	log.V(1).Infof("service name %q bound to %s", name, addr)

	return &Server{
		l:        l,
		addr:     addr,
		statedir: dir,
		name:     name,
		version:  version,
		pidfiles: opt.pidfiles,
	}, nil
}

// Dial connects to the service registered under (domain, name, version). The
// name is validated here, not assumed pre-validated. Clients never provision
// the System namespace; they rely on one existing.
func Dial(domain Domain, name string, version int, options ...Option) (*Conn, error) {
	var opt opts
	for _, o := range options {
		o(&opt)
	}

	if err := ValidateName(name); err != nil {
		return nil, err
	}

	cfg := DefaultConfig(domain)
	cfg.Root = opt.root
	dir, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}

	addr, err := encodeAddr(dir, name, version)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		log.Errorf("socket(2): %v", err)
		return nil, osErr("socket", "", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: addr}); err != nil {
		log.Errorf("connect(2) to %s: %v", addr, err)
		unix.Close(fd)
		return nil, osErr("connect", addr, err)
	}

	c, err := adoptConn(fd, addr)
	if err != nil {
		return nil, err
	}

	log.V(1).Infof("service %q connected via %s", name, addr)

	return c, nil
}

// Server is the listening endpoint for a bound service. It owns the socket
// file in the statedir and removes it on Close; accepted connections do not.
type Server struct {
	l        *net.UnixListener
	addr     string
	statedir string
	name     string
	version  int
	pidfiles Pidfiles
}

// Addr returns the filesystem path the server is bound to.
func (s *Server) Addr() string {
	return s.addr
}

// Accept blocks until a client connects and returns the connection, which is
// independently owned by the caller. There is no timeout; apply one around
// this call if you need bounded waits.
func (s *Server) Accept() (*Conn, error) {
	c, err := s.l.AcceptUnix()
	if err != nil {
		log.Errorf("accept on %s: %v", s.addr, err)
		return nil, osErr("accept", s.addr, err)
	}
	log.V(1).Infof("accepted a connection on %s", s.addr)
	return &Conn{conn: c}, nil
}

// Close removes the socket file backing the service and releases the
// listener. The file being already gone is an error, not success: it means
// someone removed it out-of-band and a different server may have rebound the
// identity. The listener itself is always released.
func (s *Server) Close() error {
	var first error
	if err := os.Remove(s.addr); err != nil {
		log.Errorf("unlink(2) of %s: %v", s.addr, err)
		first = osErr("unlink", s.addr, err)
	}
	if s.pidfiles != nil {
		if err := s.pidfiles.Remove(s.statedir, s.name, s.version); err != nil {
			log.Errorf("pidfile remove for %s,%d: %v", s.name, s.version, err)
			if first == nil {
				first = err
			}
		}
	}
	if err := s.l.Close(); err != nil {
		if first == nil {
			first = osErr("close", s.addr, err)
		}
	}
	return first
}

// Conn is one end of an established connection: either the result of an
// Accept or of a Dial. Closing a Conn never touches the statedir; the socket
// file belongs to the Server alone.
type Conn struct {
	conn *net.UnixConn
}

// Read implements io.Reader.
func (c *Conn) Read(b []byte) (int, error) {
	return c.conn.Read(b)
}

// Write implements io.Writer.
func (c *Conn) Write(b []byte) (int, error) {
	return c.conn.Write(b)
}

// Close implements io.Closer.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// UnixConn returns the underlying *net.UnixConn. Use it for deadlines,
// buffer sizing or half-closes; this package imposes none of those.
func (c *Conn) UnixConn() *net.UnixConn {
	return c.conn
}

// Peer returns the credentials of the process on the other end, as recorded
// by the kernel at connection time.
func (c *Conn) Peer() (Cred, error) {
	return readCreds(c.conn)
}

// listenUnix creates the socket, binds it to addr and marks it listening.
// The socket/bind/listen steps stay separate so a failure carries the call
// that produced it.
func listenUnix(addr string) (*net.UnixListener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		log.Errorf("socket(2): %v", err)
		return nil, osErr("socket", "", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: addr}); err != nil {
		log.Errorf("bind(2) to %s: %v", addr, err)
		unix.Close(fd)
		return nil, osErr("bind", addr, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		log.Errorf("listen(2) on %s: %v", addr, err)
		unix.Close(fd)
		return nil, osErr("listen", addr, err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, osErr("fcntl", addr, err)
	}
	f := os.NewFile(uintptr(fd), addr)
	l, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("unable to adopt bound socket %s: %w", addr, err)
	}

	ul := l.(*net.UnixListener)
	// We created the file with our own bind(2); unlinking it belongs to
	// Server.Close, not the net package.
	ul.SetUnlinkOnClose(false)
	return ul, nil
}

// adoptConn hands a connected fd to the net package and wraps it in a Conn.
func adoptConn(fd int, addr string) (*Conn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, osErr("fcntl", addr, err)
	}
	f := os.NewFile(uintptr(fd), addr)
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("unable to adopt connected socket %s: %w", addr, err)
	}
	return &Conn{conn: nc.(*net.UnixConn)}, nil
}
