// Package storage persists homogeneous time-stamped record batches as
// versioned, gzip-compressed binary files. One Store instance handles one
// record kind; candles and indicator samples share the same file shape and
// differ only in the per-record payload.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
	"github.com/0xc0d3d00d/marketcore/internal/metrics"
)

var (
	ErrEmptySymbol    = errors.New("empty symbol")
	ErrEmptyTimeframe = errors.New("empty timeframe")
	ErrNoValidRecords = errors.New("no valid records to save")
	ErrSaveCooldown   = errors.New("save cooldown active")
)

const fileSuffix = ".bin.gz"

// maxRecordsPerFile bounds the record count a file header may claim. A save
// never writes more than one batch per file, so anything beyond this is a
// corrupt or hostile header.
const maxRecordsPerFile = 1 << 20

// fileTimeLayout is the UTC write-time embedded in every filename.
const fileTimeLayout = "20060102_1504"

type Config struct {
	// Dir is created lazily on first use.
	Dir string
	// Name labels diagnostics and metrics, e.g. "candles" or "indicators".
	Name string
	// SaveCooldown throttles writes per (symbol, timeframe) key. Zero
	// disables throttling; the indicator store persists every call.
	SaveCooldown time.Duration
	// MaxFilesPerKey caps files kept per (symbol, timeframe) group.
	MaxFilesPerKey int
	// RetentionDays is the age horizon for the sweep.
	RetentionDays int
	// MaxFilesPerLoad bounds the fan-in of a single Load.
	MaxFilesPerLoad int
	// SweepInterval is the delay between retention sweeps.
	SweepInterval time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Name == "" {
		cfg.Name = "store"
	}
	if cfg.MaxFilesPerKey <= 0 {
		cfg.MaxFilesPerKey = 50
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFilesPerLoad <= 0 {
		cfg.MaxFilesPerLoad = 100
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return cfg
}

// Store is the generic persistence primitive. All file I/O goes through a
// per-path mutex; distinct files are written and read fully in parallel.
type Store[R any] struct {
	fs    afero.Fs
	cfg   Config
	codec Codec[R]
	met   *metrics.Metrics

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	lastSaveMu sync.Mutex
	lastSave   map[string]time.Time

	filesSaved    atomic.Int64
	bytesSaved    atomic.Int64
	recordsSaved  atomic.Int64
	loadsServed   atomic.Int64
	recordsLoaded atomic.Int64
	cooldownSkips atomic.Int64
	filesSkipped  atomic.Int64
	filesDeleted  atomic.Int64
	lastSweepNano atomic.Int64
}

func New[R any](fs afero.Fs, cfg Config, codec Codec[R], met *metrics.Metrics) (*Store[R], error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("storage: empty data directory")
	}
	if err := fs.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store[R]{
		fs:       fs,
		cfg:      cfg,
		codec:    codec,
		met:      met,
		locks:    make(map[string]*sync.Mutex),
		lastSave: make(map[string]time.Time),
	}, nil
}

// normalizeSymbol replaces path-hostile characters so any symbol is a safe
// filename component.
func normalizeSymbol(symbol string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, symbol)
}

func seriesKey(symbol string, tf domain.Timeframe) string {
	return normalizeSymbol(symbol) + "_" + tf.String()
}

func (s *Store[R]) lockFor(filePath string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[filePath]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[filePath] = mu
	}
	return mu
}

func (s *Store[R]) dropLock(filePath string) {
	s.locksMu.Lock()
	delete(s.locks, filePath)
	s.locksMu.Unlock()
}

// Save persists a single record. Same semantics as SaveBatch.
func (s *Store[R]) Save(symbol string, tf domain.Timeframe, rec R) error {
	return s.SaveBatch(symbol, tf, []R{rec})
}

// SaveBatch writes one new file holding the valid records of the batch.
// Invalid records are filtered out; the call fails only if none remain, the
// key is empty, or a cooldown for the key is still active.
func (s *Store[R]) SaveBatch(symbol string, tf domain.Timeframe, recs []R) error {
	if symbol == "" {
		return ErrEmptySymbol
	}
	if tf == 0 {
		return ErrEmptyTimeframe
	}

	valid := make([]R, 0, len(recs))
	for _, rec := range recs {
		if s.codec.Valid(rec) {
			valid = append(valid, rec)
		}
	}
	if len(valid) == 0 {
		return ErrNoValidRecords
	}

	now := time.Now().UTC()
	key := seriesKey(symbol, tf)

	// The slot is reserved at check time so two concurrent saves for one key
	// inside the window cannot both pass. A failed write hands it back.
	var prev time.Time
	var hadPrev bool
	if s.cfg.SaveCooldown > 0 {
		s.lastSaveMu.Lock()
		prev, hadPrev = s.lastSave[key]
		if hadPrev && now.Sub(prev) < s.cfg.SaveCooldown {
			s.lastSaveMu.Unlock()
			s.cooldownSkips.Add(1)
			return fmt.Errorf("%w: %s saved %s ago", ErrSaveCooldown, key, now.Sub(prev).Round(time.Millisecond))
		}
		s.lastSave[key] = now
		s.lastSaveMu.Unlock()
	}
	releaseSlot := func() {
		if s.cfg.SaveCooldown == 0 {
			return
		}
		s.lastSaveMu.Lock()
		if s.lastSave[key].Equal(now) {
			if hadPrev {
				s.lastSave[key] = prev
			} else {
				delete(s.lastSave, key)
			}
		}
		s.lastSaveMu.Unlock()
	}

	payload, err := s.encodeFile(symbol, tf, now, valid)
	if err != nil {
		releaseSlot()
		return err
	}

	filePath := path.Join(s.cfg.Dir, key+"_"+now.Format(fileTimeLayout)+fileSuffix)
	mu := s.lockFor(filePath)
	mu.Lock()
	err = afero.WriteFile(s.fs, filePath, payload, 0o644)
	mu.Unlock()
	if err != nil {
		releaseSlot()
		return fmt.Errorf("failed to write %s: %w", filePath, err)
	}

	s.filesSaved.Add(1)
	s.bytesSaved.Add(int64(len(payload)))
	s.recordsSaved.Add(int64(len(valid)))
	if s.met != nil {
		s.met.StoreFilesSaved.WithLabelValues(s.cfg.Name).Inc()
		s.met.StoreBytesSaved.WithLabelValues(s.cfg.Name).Add(float64(len(payload)))
	}
	slog.Debug("store saved batch", "store", s.cfg.Name, "file", filePath, "records", len(valid), "bytes", len(payload))
	return nil
}

func (s *Store[R]) encodeFile(symbol string, tf domain.Timeframe, writeTime time.Time, recs []R) ([]byte, error) {
	if len(recs) > maxRecordsPerFile {
		return nil, fmt.Errorf("batch of %d records exceeds per-file limit %d", len(recs), maxRecordsPerFile)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	bw := newBinWriter(gz)

	bw.Byte(formatVersion)
	bw.Int64(writeTime.UnixNano())
	bw.Str(symbol)
	bw.Str(tf.String())
	bw.Int32(int32(len(recs)))
	for _, rec := range recs {
		s.codec.Encode(bw, rec)
	}
	if err := bw.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress batch: %w", err)
	}
	return buf.Bytes(), nil
}

// Load scans the newest files for the key, bounded by MaxFilesPerLoad,
// and returns records with timestamp in [from, to] ascending. Records seen
// in a newer file win over same-timestamp records in older ones. Corrupted
// or unsupported files are skipped, never fatal to the whole query.
func (s *Store[R]) Load(symbol string, tf domain.Timeframe, from, to time.Time) ([]R, error) {
	if symbol == "" {
		return nil, ErrEmptySymbol
	}
	if tf == 0 {
		return nil, ErrEmptyTimeframe
	}

	pattern := path.Join(s.cfg.Dir, seriesKey(symbol, tf)+"_*"+fileSuffix)
	files, err := afero.Glob(s.fs, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	// Filenames embed the UTC write time, so lexical descending order is
	// newest batch first.
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	if len(files) > s.cfg.MaxFilesPerLoad {
		files = files[:s.cfg.MaxFilesPerLoad]
	}

	seen := make(map[int64]struct{})
	out := []R{}
	for _, filePath := range files {
		recs, err := s.readFile(filePath)
		if err != nil {
			s.filesSkipped.Add(1)
			if s.met != nil {
				s.met.StoreFilesSkipped.WithLabelValues(s.cfg.Name).Inc()
			}
			slog.Warn("store skipping unreadable file", "store", s.cfg.Name, "file", filePath, "error", err)
			continue
		}
		for _, rec := range recs {
			if !s.codec.Valid(rec) {
				continue
			}
			ts := s.codec.Timestamp(rec)
			if ts.Before(from) || ts.After(to) {
				continue
			}
			if _, dup := seen[ts.UnixNano()]; dup {
				continue
			}
			seen[ts.UnixNano()] = struct{}{}
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return s.codec.Timestamp(out[i]).Before(s.codec.Timestamp(out[j]))
	})

	s.loadsServed.Add(1)
	s.recordsLoaded.Add(int64(len(out)))
	if s.met != nil {
		s.met.StoreLoadsTotal.WithLabelValues(s.cfg.Name).Inc()
	}
	return out, nil
}

func (s *Store[R]) readFile(filePath string) ([]R, error) {
	mu := s.lockFor(filePath)
	mu.Lock()
	raw, err := afero.ReadFile(s.fs, filePath)
	mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed stream: %w", err)
	}
	defer gz.Close()

	br := newBinReader(gz)
	version := br.Byte()
	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if version < minFormatVersion || version > formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	br.Int64() // write time, informational
	br.Str()
	br.Str()
	count := br.Int32()
	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if count < 0 || count > maxRecordsPerFile {
		return nil, fmt.Errorf("implausible record count %d", count)
	}

	// The header count is untrusted input; cap the preallocation and let
	// append grow for legitimately large batches.
	recs := make([]R, 0, min(int(count), 4096))
	for i := int32(0); i < count; i++ {
		rec := s.codec.Decode(br, version)
		if err := br.Err(); err != nil {
			return nil, fmt.Errorf("failed to decode record %d of %d: %w", i, count, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Timeframes lists timeframes that have at least one file for the symbol.
func (s *Store[R]) Timeframes(symbol string) ([]domain.Timeframe, error) {
	if symbol == "" {
		return nil, ErrEmptySymbol
	}
	infos, err := afero.ReadDir(s.fs, s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	prefix := normalizeSymbol(symbol)
	found := make(map[domain.Timeframe]struct{})
	for _, info := range infos {
		sym, tf, ok := parseFileName(info.Name())
		if ok && sym == prefix {
			found[tf] = struct{}{}
		}
	}

	out := make([]domain.Timeframe, 0, len(found))
	for _, tf := range domain.AllTimeframes() {
		if _, ok := found[tf]; ok {
			out = append(out, tf)
		}
	}
	return out, nil
}

// parseFileName splits "{normSymbol}_{tf}_{yyyyMMdd}_{HHmm}.bin.gz" from the
// right, since a normalized symbol may itself contain underscores.
func parseFileName(name string) (symbol string, tf domain.Timeframe, ok bool) {
	if !strings.HasSuffix(name, fileSuffix) {
		return "", 0, false
	}
	parts := strings.Split(strings.TrimSuffix(name, fileSuffix), "_")
	if len(parts) < 4 {
		return "", 0, false
	}
	tf, err := domain.ParseTimeframe(parts[len(parts)-3])
	if err != nil {
		return "", 0, false
	}
	return strings.Join(parts[:len(parts)-3], "_"), tf, true
}

// RunRetention sweeps on a fixed delay until ctx is cancelled. An in-flight
// sweep finishes before the loop exits.
func (s *Store[R]) RunRetention(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(); err != nil {
				slog.Error("retention sweep failed", "store", s.cfg.Name, "error", err)
			}
		}
	}
}

// Sweep deletes, per (symbol, timeframe) group, every file beyond the
// MaxFilesPerKey most recently modified plus every file older than the
// retention horizon. Locks of deleted files are dropped from the lock map.
func (s *Store[R]) Sweep() error {
	infos, err := afero.ReadDir(s.fs, s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	type fileEntry struct {
		name    string
		modTime time.Time
	}
	groups := make(map[string][]fileEntry)
	for _, info := range infos {
		sym, tf, ok := parseFileName(info.Name())
		if !ok {
			continue
		}
		key := sym + "_" + tf.String()
		groups[key] = append(groups[key], fileEntry{name: info.Name(), modTime: info.ModTime()})
	}

	horizon := time.Now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	deleted := 0
	for _, entries := range groups {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].modTime.After(entries[j].modTime)
		})
		doomed := make(map[string]struct{})
		for i, entry := range entries {
			if i >= s.cfg.MaxFilesPerKey {
				doomed[entry.name] = struct{}{}
			}
			if entry.modTime.Before(horizon) {
				doomed[entry.name] = struct{}{}
			}
		}
		for name := range doomed {
			filePath := path.Join(s.cfg.Dir, name)
			mu := s.lockFor(filePath)
			mu.Lock()
			err := s.fs.Remove(filePath)
			mu.Unlock()
			if err != nil {
				slog.Warn("retention failed to delete file", "store", s.cfg.Name, "file", filePath, "error", err)
				continue
			}
			s.dropLock(filePath)
			deleted++
		}
	}

	s.filesDeleted.Add(int64(deleted))
	if s.met != nil && deleted > 0 {
		s.met.StoreFilesDeleted.WithLabelValues(s.cfg.Name).Add(float64(deleted))
	}
	s.lastSweepNano.Store(time.Now().UnixNano())
	if deleted > 0 {
		slog.Info("retention sweep deleted files", "store", s.cfg.Name, "deleted", deleted)
	}
	return nil
}

type Diagnostics struct {
	Name            string        `json:"name"`
	FileCount       int           `json:"file_count"`
	TotalBytes      int64         `json:"total_bytes"`
	FilesSaved      int64         `json:"files_saved"`
	RecordsSaved    int64         `json:"records_saved"`
	LoadsServed     int64         `json:"loads_served"`
	RecordsLoaded   int64         `json:"records_loaded"`
	CooldownSkips   int64         `json:"cooldown_skips"`
	FilesSkipped    int64         `json:"files_skipped"`
	FilesDeleted    int64         `json:"files_deleted"`
	ActiveLocks     int           `json:"active_locks"`
	LastSweep       time.Time     `json:"last_sweep"`
	SaveCooldown    time.Duration `json:"save_cooldown"`
	RetentionDays   int           `json:"retention_days"`
	MaxFilesPerKey  int           `json:"max_files_per_key"`
	MaxFilesPerLoad int           `json:"max_files_per_load"`
	Healthy         bool          `json:"healthy"`
}

func (s *Store[R]) Diagnostics() Diagnostics {
	diag := Diagnostics{
		Name:            s.cfg.Name,
		FilesSaved:      s.filesSaved.Load(),
		RecordsSaved:    s.recordsSaved.Load(),
		LoadsServed:     s.loadsServed.Load(),
		RecordsLoaded:   s.recordsLoaded.Load(),
		CooldownSkips:   s.cooldownSkips.Load(),
		FilesSkipped:    s.filesSkipped.Load(),
		FilesDeleted:    s.filesDeleted.Load(),
		SaveCooldown:    s.cfg.SaveCooldown,
		RetentionDays:   s.cfg.RetentionDays,
		MaxFilesPerKey:  s.cfg.MaxFilesPerKey,
		MaxFilesPerLoad: s.cfg.MaxFilesPerLoad,
	}
	if nano := s.lastSweepNano.Load(); nano != 0 {
		diag.LastSweep = time.Unix(0, nano).UTC()
	}

	s.locksMu.Lock()
	diag.ActiveLocks = len(s.locks)
	s.locksMu.Unlock()

	infos, err := afero.ReadDir(s.fs, s.cfg.Dir)
	if err != nil {
		return diag
	}
	for _, info := range infos {
		if _, _, ok := parseFileName(info.Name()); ok {
			diag.FileCount++
			diag.TotalBytes += info.Size()
		}
	}
	diag.Healthy = true
	return diag
}
