// Client waits for the pingpong service to come up, then plays ping/pong
// with it a few times.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/johnsiilver/ipcdir"
	"github.com/spf13/pflag"
)

var (
	name    = pflag.String("name", "pingpong", "Name the service is registered under")
	version = pflag.Int("version", 0, "Version of the service")
	rounds  = pflag.Int("rounds", 10, "How many pings to send")
	wait    = pflag.Duration("wait", 30*time.Second, "How long to wait for the service to appear")
)

func main() {
	pflag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	if err := ipcdir.WaitReady(ctx, ipcdir.User, *name, *version); err != nil {
		fmt.Fprintf(os.Stderr, "service %s,%d never appeared: %s\n", *name, *version, err)
		os.Exit(1)
	}

	conn, err := ipcdir.Dial(ipcdir.User, *name, *version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial failed: %s\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for i := 0; i < *rounds; i++ {
		if _, err := conn.Write([]byte("ping\n")); err != nil {
			fmt.Fprintf(os.Stderr, "write failed: %s\n", err)
			os.Exit(1)
		}
		resp, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "read failed: %s\n", err)
			os.Exit(1)
		}
		fmt.Printf("round %d: %s", i, resp)
	}
}
