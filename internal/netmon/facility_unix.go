//go:build linux || darwin

package netmon

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DNS configuration lives in resolver files here. The secondary systemd
// path may be absent, which is what the reduced fallback set is for.
var (
	defaultConfigPaths        = []string{"/etc/resolv.conf", "/run/systemd/resolve/resolv.conf"}
	defaultConfigPathsReduced = []string{"/etc/resolv.conf"}
)

// watchConfigFiles observes the given resolver files with fsnotify. The
// recursive flag is meaningless for plain files and is ignored.
//
// Resolver files are rewritten by atomic rename, which destroys an inotify
// watch placed on the file itself. The watch therefore goes on the parent
// directories and events are filtered down to the paths of interest, so
// the subscription keeps signalling across replacements.
func watchConfigFiles(paths []string, _ bool, onSignal func()) (*Subscription, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	watched := make(map[string]bool, len(paths))
	dirs := make(map[string]bool, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		watched[p] = true
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !watched[filepath.Clean(ev.Name)] {
					continue
				}
				log.WithFields(log.Fields{
					"path": ev.Name,
					"op":   ev.Op.String(),
				}).Trace("DNS configuration file changed")
				onSignal()
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.WithError(err).Debug("DNS configuration watcher error")
			}
		}
	}()

	return newSubscription("dns config watch", func() { _ = fw.Close() }), nil
}
