package ipcdir

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/google/uuid"
	"github.com/johnsiilver/ipcdir/pidfile"
	"github.com/kylelemons/godebug/pretty"
)

// isolatedRoot returns a statedir root that no other test will collide with.
func isolatedRoot() string {
	return filepath.Join(os.TempDir(), uuid.New().String())
}

type acceptResult struct {
	conn *Conn
	err  error
}

func TestBindDialEndToEnd(t *testing.T) {
	root := isolatedRoot()
	defer os.RemoveAll(root)

	serv, err := Bind(User, "echo", 0, WithRoot(root))
	if err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}

	addr := SocketPath(root, "echo", 0)
	if serv.Addr() != addr {
		t.Errorf("got addr %q, want %q", serv.Addr(), addr)
	}
	if _, err := os.Stat(addr); err != nil {
		t.Fatalf("socket file missing after bind: %s", err)
	}

	accepted := make(chan acceptResult, 2)
	go func() {
		for i := 0; i < 2; i++ {
			c, err := serv.Accept()
			accepted <- acceptResult{conn: c, err: err}
		}
	}()

	client, err := Dial(User, "echo", 0, WithRoot(root))
	if err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}

	ar := <-accepted
	if ar.err != nil {
		t.Fatalf("accept: got err == %q, want err == nil", ar.err)
	}
	servConn := ar.conn

	// The peer is this same process, so its credentials must match ours.
	cred, _, err := Current()
	if err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}
	peer, err := servConn.Peer()
	if err != nil {
		t.Fatalf("Peer(): got err == %q, want err == nil", err)
	}
	if diff := pretty.Compare(cred, peer); diff != "" {
		t.Errorf("peer creds: -want/+got:\n%s", diff)
	}

	// Standard byte-stream semantics in both directions.
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: got err == %q, want err == nil", err)
	}
	buf := make([]byte, 16)
	n, err := servConn.Read(buf)
	if err != nil {
		t.Fatalf("server read: got err == %q, want err == nil", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("server read: got %q, want %q", string(buf[:n]), "ping")
	}
	if _, err := servConn.Write([]byte("pong")); err != nil {
		t.Fatalf("server write: got err == %q, want err == nil", err)
	}
	n, err = client.Read(buf)
	if err != nil {
		t.Fatalf("client read: got err == %q, want err == nil", err)
	}
	if string(buf[:n]) != "pong" {
		t.Fatalf("client read: got %q, want %q", string(buf[:n]), "pong")
	}

	// Closing an accepted conn must not unlink the socket file and the
	// listener must remain usable.
	if err := servConn.Close(); err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}
	client.Close()
	if _, err := os.Stat(addr); err != nil {
		t.Fatalf("socket file removed by closing an accepted conn: %s", err)
	}

	client2, err := Dial(User, "echo", 0, WithRoot(root))
	if err != nil {
		t.Fatalf("dial after accepted-conn close: got err == %q, want err == nil", err)
	}
	ar = <-accepted
	if ar.err != nil {
		t.Fatalf("second accept: got err == %q, want err == nil", ar.err)
	}
	ar.conn.Close()
	client2.Close()

	// Closing the server unlinks the file and frees the identity.
	if err := serv.Close(); err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}
	if _, err := os.Stat(addr); !os.IsNotExist(err) {
		t.Fatalf("socket file still present after server Close: stat err == %v", err)
	}

	serv2, err := Bind(User, "echo", 0, WithRoot(root))
	if err != nil {
		t.Fatalf("rebind after close: got err == %q, want err == nil", err)
	}
	if err := serv2.Close(); err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}
}

func TestOversizedNameFailsBeforeAnySocket(t *testing.T) {
	root := isolatedRoot()
	defer os.RemoveAll(root)

	name := strings.Repeat("x", MaxName+1)

	for _, op := range []string{"bind", "dial"} {
		var err error
		switch op {
		case "bind":
			_, err = Bind(User, name, 0, WithRoot(root))
		case "dial":
			_, err = Dial(User, name, 0, WithRoot(root))
		}
		var ipcErr *Error
		if !errors.As(err, &ipcErr) || ipcErr.Kind != KindNameTooLong {
			t.Fatalf("TestOversizedNameFailsBeforeAnySocket(%s): got err == %v, want kind name-too-long", op, err)
		}
	}

	// Validation fires before the resolver, so the namespace was never even
	// provisioned, let alone a socket created in it.
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("statedir provisioned despite invalid name: stat err == %v", err)
	}
}

func TestBindAddrInUse(t *testing.T) {
	root := isolatedRoot()
	defer os.RemoveAll(root)

	serv, err := Bind(User, "solo", 3, WithRoot(root))
	if err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}
	defer serv.Close()

	// No arbitration between concurrent binds: the second simply fails.
	_, err = Bind(User, "solo", 3, WithRoot(root))
	if !errors.Is(err, syscall.EADDRINUSE) {
		t.Fatalf("second bind: got err == %v, want EADDRINUSE", err)
	}

	// A different version is a different identity and binds fine.
	serv2, err := Bind(User, "solo", 4, WithRoot(root))
	if err != nil {
		t.Fatalf("bind of other version: got err == %q, want err == nil", err)
	}
	serv2.Close()
}

func TestCloseReportsMissingSocketFile(t *testing.T) {
	root := isolatedRoot()
	defer os.RemoveAll(root)

	serv, err := Bind(User, "gone", 0, WithRoot(root))
	if err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}

	// Someone removes the file out-of-band. Close must report it rather than
	// paper over it, but the listener is still released.
	if err := os.Remove(serv.Addr()); err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}
	err = serv.Close()
	if !errors.Is(err, syscall.ENOENT) {
		t.Fatalf("got err == %v, want ENOENT", err)
	}
}

func TestDialUnboundService(t *testing.T) {
	root := isolatedRoot()
	defer os.RemoveAll(root)

	_, err := Dial(User, "nobody", 9, WithRoot(root))
	var ipcErr *Error
	if !errors.As(err, &ipcErr) || ipcErr.Kind != KindOS {
		t.Fatalf("got err == %v, want an OS error", err)
	}
	if ipcErr.Op != "connect" {
		t.Errorf("got op %q, want %q", ipcErr.Op, "connect")
	}
}

func TestPidfilesCollaborator(t *testing.T) {
	root := isolatedRoot()
	defer os.RemoveAll(root)

	pf := pidfile.FS{}
	serv, err := Bind(User, "tracked", 1, WithRoot(root), WithPidfiles(pf))
	if err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}

	pid, err := pf.Pid(root, "tracked", 1)
	if err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}
	if pid != os.Getpid() {
		t.Errorf("got recorded pid %d, want %d", pid, os.Getpid())
	}

	if err := serv.Close(); err != nil {
		t.Fatalf("got err == %q, want err == nil", err)
	}
	if _, err := os.Stat(pf.Path(root, "tracked", 1)); !os.IsNotExist(err) {
		t.Errorf("pidfile still present after Close: stat err == %v", err)
	}
}
