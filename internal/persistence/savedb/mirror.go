package savedb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"draconia.gg/internal/persistence/snapshot"
)

type MirrorConfig struct {
	Endpoint      string
	Token         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxPending bounds the retained batch when the endpoint keeps failing;
	// the oldest records go first.
	MaxPending int
	Log        logrus.FieldLogger
}

// Mirror ships checkpoint records (profile, step, checksum, size) to a remote
// ingest endpoint in batches. State bytes stay local; the remote side only
// learns which save is current.
type Mirror struct {
	cfg        MirrorConfig
	httpClient *http.Client

	ch   chan mirrorEvent
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool

	queueDroppedTotal atomic.Uint64
	flushFailTotal    atomic.Uint64
	sentTotal         atomic.Uint64
}

type mirrorEvent struct {
	Profile  string `json:"profile"`
	Step     uint64 `json:"step"`
	Checksum string `json:"checksum"`
	Size     int    `json:"size"`
	SavedAt  string `json:"saved_at"`
}

type MirrorStats struct {
	QueueDepth        int
	QueueDroppedTotal uint64
	FlushFailTotal    uint64
	SentTotal         uint64
}

func OpenMirror(cfg MirrorConfig) (*Mirror, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty mirror endpoint")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 4096
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	m := &Mirror{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan mirrorEvent, 4096),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop()
	}()
	return m, nil
}

func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.ch)
		m.mu.Unlock()
		m.wg.Wait()
	})
	return nil
}

func (m *Mirror) Stats() MirrorStats {
	if m == nil {
		return MirrorStats{}
	}
	return MirrorStats{
		QueueDepth:        len(m.ch),
		QueueDroppedTotal: m.queueDroppedTotal.Load(),
		FlushFailTotal:    m.flushFailTotal.Load(),
		SentTotal:         m.sentTotal.Load(),
	}
}

func (m *Mirror) Record(profile string, snap snapshot.Snapshot) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	ev := mirrorEvent{
		Profile:  profile,
		Step:     snap.Step,
		Checksum: snap.Checksum,
		Size:     len(snap.Bytes),
		SavedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case m.ch <- ev:
	default:
		m.queueDroppedTotal.Add(1)
		m.cfg.Log.WithField("profile", profile).Warn("save mirror queue full; dropping record")
	}
}

func (m *Mirror) loop() {
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]mirrorEvent, 0, m.cfg.BatchSize)
	// A failed batch is kept and retried with the next flush.
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := m.sendBatch(batch); err != nil {
			m.flushFailTotal.Add(1)
			m.cfg.Log.WithError(err).WithField("batch", len(batch)).Warn("save mirror flush failed")
			if over := len(batch) - m.cfg.MaxPending; over > 0 {
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		m.sentTotal.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-m.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= m.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (m *Mirror) sendBatch(events []mirrorEvent) error {
	body := struct {
		Events []mirrorEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, m.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if m.cfg.Token != "" {
			req.Header.Set("authorization", "Bearer "+m.cfg.Token)
		}

		resp, err := m.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}
