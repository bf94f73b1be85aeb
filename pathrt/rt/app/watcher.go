package app

import (
	"path/filepath"
	"strings"

	"github.com/gekko3d/pathtrace/pathrt/rt/core"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals Reload when the scene file or an asset beside it changes.
// The reload itself is left to the frame loop.
type Watcher struct {
	Reload chan struct{}

	watcher *fsnotify.Watcher
	path    string
	done    chan struct{}
	log     core.Logger
}

var reloadExts = map[string]bool{
	".gltf": true, ".glb": true, ".bin": true,
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// NewWatcher watches the directory holding path, since editors often save
// by replacing the file.
func NewWatcher(path string, log core.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		Reload:  make(chan struct{}, 1),
		watcher: fw,
		path:    abs,
		done:    make(chan struct{}),
		log:     core.OrNop(log),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	if name == w.path {
		return true
	}
	return reloadExts[strings.ToLower(filepath.Ext(name))]
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.log.Debugf("Scene change: %s", event)
			// Coalesce bursts of events into one pending reload.
			select {
			case w.Reload <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnf("File watcher: %v", err)
		}
	}
}

// Pending reports and consumes a queued reload without blocking.
func (w *Watcher) Pending() bool {
	select {
	case <-w.Reload:
		return true
	default:
		return false
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
