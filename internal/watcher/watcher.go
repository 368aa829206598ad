// Package watcher feeds a spool directory into the ingest pipeline. Hosts
// that cannot talk to the API drop their dump files into the directory by any
// means available (scp, cron, a USB stick) and the watcher picks them up.
//
// The source host is taken from the file name: everything before the first
// underscore, with the extension stripped. "ops-box_arp.txt" ingests as
// source "ops-box". Files are renamed to *.done after successful ingestion
// so a restart does not replay them.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"netfuse/internal/domain"
	"netfuse/internal/parser"
	"netfuse/internal/service"
)

const doneSuffix = ".done"

// Watcher watches a spool directory for dump files
type Watcher struct {
	dir      string
	pool     *service.Pool
	debounce time.Duration
}

// New creates a new spool watcher
func New(dir string, pool *service.Pool) *Watcher {
	return &Watcher{
		dir:      dir,
		pool:     pool,
		debounce: 500 * time.Millisecond,
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Watch processes the backlog and then blocks watching for new files until
// the context is cancelled or an error occurs
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	log.Printf("Watching spool directory %s", w.dir)
	w.processBacklog()

	debounceTimers := make(map[string]*time.Timer)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := event.Name
			if strings.HasSuffix(path, doneSuffix) {
				continue
			}

			// Debounce so a file still being written is read once,
			// after the writes settle.
			if timer, exists := debounceTimers[path]; exists {
				timer.Stop()
			}
			debounceTimers[path] = time.AfterFunc(w.debounce, func() {
				w.processFile(path)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Watcher error: %v", err)

		case <-ctx.Done():
			for _, timer := range debounceTimers {
				timer.Stop()
			}
			return ctx.Err()
		}
	}
}

// processBacklog ingests files already sitting in the spool directory.
func (w *Watcher) processBacklog() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("Failed to read spool directory: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), doneSuffix) {
			continue
		}
		w.processFile(filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Failed to read spool file %s: %v", path, err)
		return
	}

	dumpType, osName, err := parser.Guess(strings.NewReader(string(data)))
	if err != nil {
		log.Printf("Skipping spool file %s: %v", path, err)
		return
	}
	parse, ok := parser.Lookup(dumpType, osName)
	if !ok {
		log.Printf("Skipping spool file %s: no parser for (%s, %s)", path, dumpType, osName)
		return
	}
	records, err := parse(strings.NewReader(string(data)))
	if err != nil {
		log.Printf("Failed to parse spool file %s: %v", path, err)
		return
	}
	if len(records) == 0 {
		log.Printf("Spool file %s contained no records", path)
		return
	}

	source := sourceFromFilename(path)
	if !w.pool.Submit(service.IngestJob{
		SourceHost: source,
		Records:    records,
		Options:    domain.IngestOptions{},
	}) {
		log.Printf("Ingest queue full, leaving %s for the next pass", path)
		return
	}
	log.Printf("Queued %s: %d %s records from %s", path, len(records), dumpType, source)

	if err := os.Rename(path, path+doneSuffix); err != nil {
		log.Printf("Failed to mark %s done: %v", path, err)
	}
}

// sourceFromFilename derives the reporting host from the spool file name.
func sourceFromFilename(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.Index(name, "_"); i > 0 {
		name = name[:i]
	}
	return name
}
