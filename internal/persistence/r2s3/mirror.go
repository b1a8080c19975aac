package r2s3

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	UploadedBytes      uint64
	LastSuccessUnix    int64
	LastErrorUnix      int64
}

type putter interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

// Archiver uploads closed journal directories. Object keys are
// <prefix>/<session>/<file>.
type Archiver struct {
	client putter
	prefix string
	log    logrus.FieldLogger

	jobs    chan string
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	backoff func(attempt int) time.Duration

	droppedTotal       atomic.Uint64
	uploadSuccessTotal atomic.Uint64
	uploadFailTotal    atomic.Uint64
	uploadedBytes      atomic.Uint64
	lastSuccessUnix    atomic.Int64
	lastErrorUnix      atomic.Int64
}

func NewArchiver(client *Client, prefix string, workers, queueCapacity int, log logrus.FieldLogger) *Archiver {
	return newArchiver(client, prefix, workers, queueCapacity, log)
}

func newArchiver(client putter, prefix string, workers, queueCapacity int, log logrus.FieldLogger) *Archiver {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Archiver{
		client:  client,
		prefix:  strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		log:     log,
		jobs:    make(chan string, queueCapacity),
		backoff: func(attempt int) time.Duration { return time.Duration(attempt*attempt) * 200 * time.Millisecond },
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for dir := range a.jobs {
				a.uploadDir(dir)
			}
		}()
	}
	return a
}

// EnqueueDir schedules every file in dir for upload. It never blocks; a full
// queue drops the directory and counts it.
func (a *Archiver) EnqueueDir(dir string) {
	if a == nil || a.closed.Load() {
		return
	}
	select {
	case a.jobs <- dir:
	default:
		n := a.droppedTotal.Add(1)
		a.log.WithFields(logrus.Fields{"dir": dir, "dropped_total": n}).Warn("archive queue full; dropping")
	}
}

// Close waits for queued uploads to finish.
func (a *Archiver) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.jobs)
		a.wg.Wait()
	})
}

func (a *Archiver) Stats() Stats {
	if a == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(a.jobs),
		QueueCapacity:      cap(a.jobs),
		DroppedTotal:       a.droppedTotal.Load(),
		UploadSuccessTotal: a.uploadSuccessTotal.Load(),
		UploadFailTotal:    a.uploadFailTotal.Load(),
		UploadedBytes:      a.uploadedBytes.Load(),
		LastSuccessUnix:    a.lastSuccessUnix.Load(),
		LastErrorUnix:      a.lastErrorUnix.Load(),
	}
}

func (a *Archiver) uploadDir(dir string) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		a.log.WithError(err).WithField("dir", dir).Warn("archive skip")
		return
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	session := filepath.Base(dir)
	var total uint64
	for _, name := range names {
		local := filepath.Join(dir, name)
		key := path.Join(a.prefix, session, name)
		if err := a.uploadWithRetry(key, local); err != nil {
			a.uploadFailTotal.Add(1)
			a.lastErrorUnix.Store(time.Now().UTC().Unix())
			a.log.WithError(err).WithField("key", key).Warn("archive upload failed")
			continue
		}
		if fi, err := os.Stat(local); err == nil {
			total += uint64(fi.Size())
		}
		a.uploadSuccessTotal.Add(1)
		a.lastSuccessUnix.Store(time.Now().UTC().Unix())
	}
	a.uploadedBytes.Add(total)
	a.log.WithFields(logrus.Fields{"session": session, "files": len(names), "size": humanize.Bytes(total)}).Info("journal archived")
}

func (a *Archiver) uploadWithRetry(key, local string) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := a.client.PutFile(ctx, key, local)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(a.backoff(attempt))
		}
	}
	return lastErr
}
