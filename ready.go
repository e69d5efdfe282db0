package ipcdir

// ready.go supplies the bounded-wait layer the core deliberately lacks:
// Bind and Dial never wait for anything, so a client racing a server's
// startup uses WaitReady to block until the service's socket file appears.

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/golang/glog"
)

// WaitReady blocks until the socket file for (domain, name, version) exists
// or ctx is done. It does not connect; follow it with Dial. A service that
// was already bound before the call returns immediately. Note that the
// statedir itself must resolve, so a User caller will provision their
// namespace as a side effect, just as Dial would.
func WaitReady(ctx context.Context, domain Domain, name string, version int, options ...Option) error {
	var opt opts
	for _, o := range options {
		o(&opt)
	}

	if err := ValidateName(name); err != nil {
		return err
	}

	cfg := DefaultConfig(domain)
	cfg.Root = opt.root
	dir, err := Resolve(cfg)
	if err != nil {
		return err
	}

	addr, err := encodeAddr(dir, name, version)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Join(dir, "services")); err != nil {
		return err
	}

	// The file may have appeared before the watch was in place.
	if _, err := os.Stat(addr); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-watcher.Events:
			if event.Name == addr && event.Op&fsnotify.Create == fsnotify.Create {
				return nil
			}
		case err := <-watcher.Errors:
			log.Errorf("problem watching %s: %v", dir, err)
		}
	}
}
