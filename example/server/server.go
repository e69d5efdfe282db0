// Server binds a service in the user namespace and answers every "ping"
// line with "pong". Run the client in example/client against it.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"

	"github.com/johnsiilver/ipcdir"
	"github.com/johnsiilver/ipcdir/pidfile"
	"github.com/spf13/pflag"
)

var (
	name    = pflag.String("name", "pingpong", "Name to register the service under")
	version = pflag.Int("version", 0, "Version of the service")
)

func main() {
	pflag.Parse()

	cred, _, err := ipcdir.Current()
	if err != nil {
		panic(err)
	}

	serv, err := ipcdir.Bind(ipcdir.User, *name, *version, ipcdir.WithPidfiles(pidfile.FS{}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "bind failed: %s\n", err)
		os.Exit(1)
	}
	defer serv.Close()

	fmt.Println("listening on socket:", serv.Addr())

	for {
		conn, err := serv.Accept()
		if err != nil {
			fmt.Fprintf(os.Stderr, "accept failed: %s\n", err)
			os.Exit(1)
		}

		// We spin off handling of this connection to its own goroutine and
		// go back to waiting for another connection.
		go func() {
			defer conn.Close()

			// Only talk to our own user.
			peer, err := conn.Peer()
			if err != nil {
				log.Printf("could not read peer creds, rejecting conn: %s", err)
				return
			}
			if peer.UID != cred.UID {
				log.Printf("unauthorized user uid %d attempted a connection", peer.UID.Int())
				return
			}

			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
				if scanner.Text() == "ping" {
					if _, err := conn.Write([]byte("pong\n")); err != nil {
						return
					}
				}
			}
		}()
	}
}
