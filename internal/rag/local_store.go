package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const (
	manifestFile     = "manifest.json"
	chromemDir       = "chromem"
	currentFile      = "CURRENT"
	generationPrefix = "gen-"
	collectionName   = "knowledge"

	loadAttempts = 5

	metaDocID = "doc_id"
	metaSeq   = "seq"
	metaStart = "start"
	metaNorm  = "norm"
)

// LocalStoreConfig configures a LocalStore.
type LocalStoreConfig struct {
	Dir      string
	Spec     Spec
	Compress bool
	// LockTimeout bounds how long Build waits for another process's build.
	LockTimeout time.Duration
}

// ApplyDefaults fills zero values.
func (c *LocalStoreConfig) ApplyDefaults() {
	if c.Spec.Metric == "" {
		c.Spec.Metric = MetricCosine
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = 5 * time.Second
	}
}

// Validate checks the configuration.
func (c *LocalStoreConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("%w: persist directory is required", core.ErrInvalidConfig)
	}
	if c.Spec.Dimension < 1 {
		return fmt.Errorf("%w: dimension must be positive", core.ErrInvalidConfig)
	}
	return nil
}

// LocalStore persists an index on disk as
//
//	<dir>/CURRENT             name of the live generation
//	<dir>/gen-*/manifest.json version stamp
//	<dir>/gen-*/chromem/      chromem-go persistent collection
//
// Build writes a new generation and publishes it by renaming a new CURRENT
// over the old one, so a reader in another process always resolves to a
// complete generation. The previous generation is kept until the next
// Build for readers still holding it.
//
// chromem-go stores unit vectors, so each entry's original norm is kept in
// its metadata and multiplied back on load.
type LocalStore struct {
	cfg    LocalStoreConfig
	logger *zap.Logger
}

// NewLocalStore creates a store rooted at cfg.Dir. Nothing is touched on disk
// until Load or Build.
func NewLocalStore(cfg LocalStoreConfig, logger *zap.Logger) (*LocalStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving persist directory: %w", err)
	}
	cfg.Dir = dir
	return &LocalStore{cfg: cfg, logger: logger}, nil
}

func (s *LocalStore) Location() string { return s.cfg.Dir }

// Exists reports whether anything is persisted at the location. Whether it
// is a valid index is decided by Load.
func (s *LocalStore) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(s.cfg.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking index directory: %w", err)
	}
	return true, nil
}

// Load rematerialises the live generation's entries in insertion order. A
// generation pruned by a concurrent Build is retried against the new one.
func (s *LocalStore) Load(ctx context.Context) (Index, error) {
	var err error
	for attempt := 0; attempt < loadAttempts; attempt++ {
		gen, cerr := s.current()
		if cerr != nil {
			return nil, cerr
		}
		var idx Index
		idx, err = s.loadGeneration(ctx, gen)
		if err == nil || !errors.Is(err, core.ErrCorruptIndex) {
			return idx, err
		}
		if now, cerr := s.current(); cerr != nil || now == gen {
			return nil, err
		}
		s.logger.Debug("index generation replaced while loading, retrying", zap.String("generation", gen))
	}
	return nil, err
}

func (s *LocalStore) loadGeneration(ctx context.Context, gen string) (Index, error) {
	dir := filepath.Join(s.cfg.Dir, gen)
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	if err := s.cfg.Spec.Check(m); err != nil {
		return nil, err
	}

	chromemPath := filepath.Join(dir, chromemDir)
	if fi, err := os.Stat(chromemPath); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: missing %s", core.ErrCorruptIndex, chromemPath)
	}

	db, err := chromem.NewPersistentDB(chromemPath, s.cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptIndex, err)
	}
	col := db.GetCollection(collectionName, precomputedOnly)
	if col == nil {
		return nil, fmt.Errorf("%w: collection %q not found", core.ErrCorruptIndex, collectionName)
	}
	if col.Count() != m.Count {
		return nil, fmt.Errorf("%w: manifest records %d entries, store holds %d", core.ErrCorruptIndex, m.Count, col.Count())
	}

	entries := make([]core.Entry, m.Count)
	for i := range entries {
		doc, err := col.GetByID(ctx, entryID(i))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrCorruptIndex, err)
		}
		entry, err := entryFromDocument(doc)
		if err != nil {
			return nil, err
		}
		if len(entry.Vector) != m.Dimension {
			return nil, fmt.Errorf("%w: entry %d has %d values, manifest dimension is %d",
				core.ErrCorruptIndex, i, len(entry.Vector), m.Dimension)
		}
		entries[i] = entry
	}

	s.logger.Info("loaded index",
		zap.String("dir", s.cfg.Dir),
		zap.String("generation", gen),
		zap.Int("entries", m.Count),
		zap.String("embedder", m.EmbedderModel),
	)
	return NewFlat(entries, m), nil
}

// current reads the live generation's name from the pointer file.
func (s *LocalStore) current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.cfg.Dir, currentFile))
	if err != nil {
		return "", fmt.Errorf("%w: no readable %s in %s: %v", core.ErrCorruptIndex, currentFile, s.cfg.Dir, err)
	}
	gen := strings.TrimSpace(string(data))
	if !strings.HasPrefix(gen, generationPrefix) || filepath.Base(gen) != gen {
		return "", fmt.Errorf("%w: %s names %q", core.ErrCorruptIndex, currentFile, gen)
	}
	return gen, nil
}

// Build writes the entries to a new generation and publishes it. A
// partially written index is never visible at Location.
func (s *LocalStore) Build(ctx context.Context, entries []core.Entry) (Index, error) {
	if err := s.cfg.Spec.checkEntries(entries); err != nil {
		return nil, err
	}

	lock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	_, statErr := os.Stat(s.cfg.Dir)
	created := errors.Is(statErr, fs.ErrNotExist)
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", s.cfg.Dir, err)
	}

	genDir, err := os.MkdirTemp(s.cfg.Dir, generationPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating index generation: %w", err)
	}
	published := false
	defer func() {
		if published {
			return
		}
		if created {
			_ = os.RemoveAll(s.cfg.Dir)
		} else {
			_ = os.RemoveAll(genDir)
		}
	}()

	db, err := chromem.NewPersistentDB(filepath.Join(genDir, chromemDir), s.cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem database: %w", err)
	}
	col, err := db.CreateCollection(collectionName, map[string]string{
		"schema_version": strconv.Itoa(SchemaVersion),
	}, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		docs[i] = documentFromEntry(i, e)
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("writing entries: %w", err)
	}

	m := s.cfg.Spec.manifest(len(entries))
	if err := writeManifest(genDir, m); err != nil {
		return nil, err
	}

	gen := filepath.Base(genDir)
	previous, _ := s.current()
	if err := s.publish(gen); err != nil {
		return nil, err
	}
	published = true
	s.prune(gen, previous)

	s.logger.Info("built index",
		zap.String("dir", s.cfg.Dir),
		zap.String("generation", gen),
		zap.Int("entries", len(entries)),
		zap.String("embedder", m.EmbedderModel),
	)

	own := make([]core.Entry, len(entries))
	copy(own, entries)
	return NewFlat(own, m), nil
}

// publish points CURRENT at gen. The rename is atomic, so readers see the
// old name or the new one.
func (s *LocalStore) publish(gen string) error {
	tmp := filepath.Join(s.cfg.Dir, currentFile+".tmp")
	if err := os.WriteFile(tmp, []byte(gen+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", currentFile, err)
	}
	if err := os.Rename(tmp, filepath.Join(s.cfg.Dir, currentFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publishing index: %w", err)
	}
	return nil
}

// prune removes everything under the directory except CURRENT and the
// generations in keep. Files from older layouts go too.
func (s *LocalStore) prune(keep ...string) {
	des, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		s.logger.Warn("failed to list index generations", zap.String("dir", s.cfg.Dir), zap.Error(err))
		return
	}
	for _, de := range des {
		name := de.Name()
		if name == currentFile || slices.Contains(keep, name) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.cfg.Dir, name)); err != nil {
			s.logger.Warn("failed to remove old index generation", zap.String("path", name), zap.Error(err))
		}
	}
}

// DiscardInvalid removes the persisted index unless, checked again under the
// build lock, it is valid for the store's Spec. A valid index, typically one
// another process published meanwhile, is returned instead.
func (s *LocalStore) DiscardInvalid(ctx context.Context) (Index, error) {
	lock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	idx, err := s.Load(ctx)
	switch {
	case err == nil:
		return idx, nil
	case !errors.Is(err, core.ErrCorruptIndex):
		return nil, err
	}
	return nil, s.removeAll()
}

// Remove deletes the persisted index once no build is running.
func (s *LocalStore) Remove(ctx context.Context) error {
	lock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer lock.release()
	return s.removeAll()
}

func (s *LocalStore) removeAll() error {
	if err := os.RemoveAll(s.cfg.Dir); err != nil {
		return fmt.Errorf("removing index at %s: %w", s.cfg.Dir, err)
	}
	s.logger.Info("removed index", zap.String("dir", s.cfg.Dir))
	return nil
}

// lock takes the cross-process lock that serialises builds and removals.
func (s *LocalStore) lock(ctx context.Context) (*dirLock, error) {
	parent := filepath.Dir(s.cfg.Dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", parent, err)
	}
	lock := newDirLock(s.cfg.Dir+".lock", s.cfg.LockTimeout, s.logger)
	if err := lock.acquire(ctx); err != nil {
		return nil, err
	}
	return lock, nil
}

func entryID(seq int) string {
	return fmt.Sprintf("%08d", seq)
}

func documentFromEntry(seq int, e core.Entry) chromem.Document {
	norm := l2norm(e.Vector)
	unit := make([]float32, len(e.Vector))
	if norm > 0 {
		for i, v := range e.Vector {
			unit[i] = v / norm
		}
	} else {
		// chromem-go cannot store a zero vector; norm 0 restores it on load.
		unit[0] = 1
	}

	return chromem.Document{
		ID: entryID(seq),
		Metadata: map[string]string{
			metaDocID: e.Chunk.DocID,
			metaSeq:   strconv.Itoa(e.Chunk.Seq),
			metaStart: strconv.Itoa(e.Chunk.Start),
			metaNorm:  strconv.FormatFloat(float64(norm), 'g', -1, 32),
		},
		Embedding: unit,
		Content:   e.Chunk.Text,
	}
}

func entryFromDocument(doc chromem.Document) (core.Entry, error) {
	seq, err1 := strconv.Atoi(doc.Metadata[metaSeq])
	start, err2 := strconv.Atoi(doc.Metadata[metaStart])
	norm, err3 := strconv.ParseFloat(doc.Metadata[metaNorm], 32)
	if err := errors.Join(err1, err2, err3); err != nil {
		return core.Entry{}, fmt.Errorf("%w: entry %s has bad metadata: %v", core.ErrCorruptIndex, doc.ID, err)
	}

	vec := doc.Embedding
	for i := range vec {
		vec[i] *= float32(norm)
	}
	return core.Entry{
		Chunk: core.Chunk{
			DocID: doc.Metadata[metaDocID],
			Seq:   seq,
			Start: start,
			Text:  doc.Content,
		},
		Vector: vec,
	}, nil
}

// precomputedOnly is the collection's embedding function. Every entry
// carries its vector, so chromem-go must never call it.
func precomputedOnly(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("index entries must carry precomputed embeddings")
}

func readManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return m, fmt.Errorf("%w: no readable manifest in %s: %v", core.ErrCorruptIndex, dir, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: invalid manifest: %v", core.ErrCorruptIndex, err)
	}
	return m, nil
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
