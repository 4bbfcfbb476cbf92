package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"go.uber.org/zap"
)

// Field names for the knowledge collection.
const (
	FieldID     = "id"
	FieldDocID  = "doc_id"
	FieldSeq    = "seq"
	FieldStart  = "start"
	FieldText   = "text"
	FieldVector = "vector"

	// Milvus caps VarChar fields at 65535 bytes. Document IDs are paths
	// plus a page anchor, so they get the same room as text.
	DefaultMaxVarCharLength = "65535"
	DefaultIDMaxLength      = "65535"

	maxVarCharBytes = 65535

	insertBatchSize = 512
)

// milvusRow is one entry as stored in Milvus. ID is the insertion position.
type milvusRow struct {
	ID     int64
	DocID  string
	Seq    int64
	Start  int64
	Text   string
	Vector []float32
}

type milvusHit struct {
	milvusRow
	Score float32
}

// collectionAPI is the slice of Milvus the store needs.
type collectionAPI interface {
	Has(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name, description string, dim int, metric Metric) error
	Insert(ctx context.Context, name string, dim int, rows []milvusRow) error
	// Finalize flushes the collection and loads it for search.
	Finalize(ctx context.Context, name string) error
	Description(ctx context.Context, name string) (string, error)
	Search(ctx context.Context, name string, vec []float32, k int) ([]milvusHit, error)
	Drop(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
	// Resolve returns the collection alias points at. ok is false when no
	// such alias exists.
	Resolve(ctx context.Context, alias string) (collection string, ok bool, err error)
	// SetAlias points alias at collection, creating the alias if needed.
	SetAlias(ctx context.Context, alias, collection string, exists bool) error
	DropAlias(ctx context.Context, alias string) error
	Close(ctx context.Context) error
}

// MilvusConfig configures a MilvusStore.
type MilvusConfig struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Spec       Spec
}

// MilvusStore keeps the index in versioned collections <name>_v<nanos>
// behind an alias <name>. Build fills a new version and switches the alias
// to it, so searches never see a missing or half-filled collection. The
// manifest is stored as the collection description, so a collection written
// by another embedder or schema is detected on Load.
type MilvusStore struct {
	api    collectionAPI
	cfg    MilvusConfig
	logger *zap.Logger
}

// NewMilvusStore connects to Milvus.
func NewMilvusStore(ctx context.Context, cfg MilvusConfig, logger *zap.Logger) (*MilvusStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: milvus collection is required", core.ErrInvalidConfig)
	}
	if cfg.Spec.Dimension < 1 {
		return nil, fmt.Errorf("%w: dimension must be positive", core.ErrInvalidConfig)
	}
	if cfg.Spec.Metric == "" {
		cfg.Spec.Metric = MetricCosine
	}

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Milvus at %s: %w", cfg.Address, err)
	}
	return newMilvusStore(&milvusCollections{client: c}, cfg, logger), nil
}

func newMilvusStore(api collectionAPI, cfg MilvusConfig, logger *zap.Logger) *MilvusStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Spec.Metric == "" {
		cfg.Spec.Metric = MetricCosine
	}
	return &MilvusStore{api: api, cfg: cfg, logger: logger}
}

func (s *MilvusStore) Location() string {
	return fmt.Sprintf("milvus://%s/%s", s.cfg.Address, s.cfg.Collection)
}

// target returns the collection behind the store's name: the version the
// alias points at, or a plain collection of that name.
func (s *MilvusStore) target(ctx context.Context) (string, bool, error) {
	name, ok, err := s.api.Resolve(ctx, s.cfg.Collection)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve alias %s: %w", s.cfg.Collection, err)
	}
	if ok {
		return name, true, nil
	}
	ok, err = s.api.Has(ctx, s.cfg.Collection)
	if err != nil {
		return "", false, fmt.Errorf("failed to check collection %s: %w", s.cfg.Collection, err)
	}
	if ok {
		return s.cfg.Collection, true, nil
	}
	return "", false, nil
}

func (s *MilvusStore) Exists(ctx context.Context) (bool, error) {
	_, ok, err := s.target(ctx)
	return ok, err
}

func (s *MilvusStore) Load(ctx context.Context) (Index, error) {
	name, ok, err := s.target(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: collection %s does not exist", core.ErrCorruptIndex, s.cfg.Collection)
	}
	desc, err := s.api.Description(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to describe collection %s: %w", name, err)
	}
	var m Manifest
	if err := json.Unmarshal([]byte(desc), &m); err != nil {
		return nil, fmt.Errorf("%w: collection %s carries no manifest", core.ErrCorruptIndex, name)
	}
	if err := s.cfg.Spec.Check(m); err != nil {
		return nil, err
	}
	if err := s.api.Finalize(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", name, err)
	}

	s.logger.Info("loaded milvus index",
		zap.String("collection", name),
		zap.Int("entries", m.Count),
		zap.String("embedder", m.EmbedderModel),
	)
	return &milvusIndex{api: s.api, collection: name, manifest: m}, nil
}

// Build fills a new version and points the alias at it. The version the
// alias replaced is kept for open handles; older ones are dropped.
func (s *MilvusStore) Build(ctx context.Context, entries []core.Entry) (Index, error) {
	if err := s.cfg.Spec.checkEntries(entries); err != nil {
		return nil, err
	}

	m := s.cfg.Spec.manifest(len(entries))
	desc, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}

	version := fmt.Sprintf("%s%d", s.versionPrefix(), time.Now().UnixNano())
	if err := s.api.Create(ctx, version, string(desc), s.cfg.Spec.Dimension, s.cfg.Spec.Metric); err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", version, err)
	}
	published := false
	defer func() {
		if !published {
			if err := s.api.Drop(context.WithoutCancel(ctx), version); err != nil {
				s.logger.Warn("failed to drop unpublished collection", zap.String("collection", version), zap.Error(err))
			}
		}
	}()

	for start := 0; start < len(entries); start += insertBatchSize {
		end := min(start+insertBatchSize, len(entries))
		rows := make([]milvusRow, 0, end-start)
		for i := start; i < end; i++ {
			e := entries[i]
			rows = append(rows, milvusRow{
				ID:     int64(i),
				DocID:  fitVarChar(e.Chunk.DocID),
				Seq:    int64(e.Chunk.Seq),
				Start:  int64(e.Chunk.Start),
				Text:   fitVarChar(e.Chunk.Text),
				Vector: e.Vector,
			})
		}
		if err := s.api.Insert(ctx, version, s.cfg.Spec.Dimension, rows); err != nil {
			return nil, fmt.Errorf("failed to insert entries %d-%d: %w", start, end, err)
		}
	}
	if err := s.api.Finalize(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to finalize collection %s: %w", version, err)
	}

	previous, aliased, err := s.api.Resolve(ctx, s.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alias %s: %w", s.cfg.Collection, err)
	}
	if !aliased {
		// An alias cannot share its name with a collection.
		plain, err := s.api.Has(ctx, s.cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("failed to check collection %s: %w", s.cfg.Collection, err)
		}
		if plain {
			if err := s.api.Drop(ctx, s.cfg.Collection); err != nil {
				return nil, fmt.Errorf("failed to drop collection %s: %w", s.cfg.Collection, err)
			}
		}
	}
	if err := s.api.SetAlias(ctx, s.cfg.Collection, version, aliased); err != nil {
		return nil, fmt.Errorf("failed to publish collection %s: %w", version, err)
	}
	published = true
	s.prune(ctx, version, previous)

	s.logger.Info("built milvus index",
		zap.String("alias", s.cfg.Collection),
		zap.String("collection", version),
		zap.Int("entries", len(entries)),
		zap.String("embedder", m.EmbedderModel),
	)
	return &milvusIndex{api: s.api, collection: version, manifest: m}, nil
}

func (s *MilvusStore) versionPrefix() string { return s.cfg.Collection + "_v" }

// prune drops every version except those in keep.
func (s *MilvusStore) prune(ctx context.Context, keep ...string) {
	names, err := s.api.List(ctx)
	if err != nil {
		s.logger.Warn("failed to list collections", zap.Error(err))
		return
	}
	for _, name := range names {
		if !strings.HasPrefix(name, s.versionPrefix()) || slices.Contains(keep, name) {
			continue
		}
		if err := s.api.Drop(ctx, name); err != nil {
			s.logger.Warn("failed to drop old collection", zap.String("collection", name), zap.Error(err))
		}
	}
}

// DiscardInvalid removes the alias and its versions unless Load succeeds.
func (s *MilvusStore) DiscardInvalid(ctx context.Context) (Index, error) {
	idx, err := s.Load(ctx)
	switch {
	case err == nil:
		return idx, nil
	case !errors.Is(err, core.ErrCorruptIndex):
		return nil, err
	}
	return nil, s.Remove(ctx)
}

func (s *MilvusStore) Remove(ctx context.Context) error {
	_, aliased, err := s.api.Resolve(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("failed to resolve alias %s: %w", s.cfg.Collection, err)
	}
	if aliased {
		if err := s.api.DropAlias(ctx, s.cfg.Collection); err != nil {
			return fmt.Errorf("failed to drop alias %s: %w", s.cfg.Collection, err)
		}
	}
	names, err := s.api.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range names {
		if name != s.cfg.Collection && !strings.HasPrefix(name, s.versionPrefix()) {
			continue
		}
		if err := s.api.Drop(ctx, name); err != nil {
			return fmt.Errorf("failed to drop collection %s: %w", name, err)
		}
	}
	return nil
}

// fitVarChar cuts s to the VarChar limit on a rune boundary.
func fitVarChar(s string) string {
	if len(s) <= maxVarCharBytes {
		return s
	}
	cut := maxVarCharBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Close releases the Milvus connection.
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.api.Close(ctx)
}

type milvusIndex struct {
	api        collectionAPI
	collection string
	manifest   Manifest
}

func (x *milvusIndex) Len() int           { return x.manifest.Count }
func (x *milvusIndex) Dimension() int     { return x.manifest.Dimension }
func (x *milvusIndex) Manifest() Manifest { return x.manifest }
func (x *milvusIndex) Close() error       { return nil }

func (x *milvusIndex) Query(ctx context.Context, vec []float32, k int) ([]core.Hit, error) {
	if len(vec) != x.manifest.Dimension {
		return nil, fmt.Errorf("%w: query has %d values, index dimension is %d",
			core.ErrDimensionMismatch, len(vec), x.manifest.Dimension)
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	k = min(k, x.manifest.Count)

	found, err := x.api.Search(ctx, x.collection, vec, k)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	if x.manifest.Metric == MetricL2 {
		// Milvus reports squared L2 distances.
		for i := range found {
			found[i].Score = -float32(math.Sqrt(float64(found[i].Score)))
		}
	}

	// Milvus orders ties arbitrarily.
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Score != found[j].Score {
			return found[i].Score > found[j].Score
		}
		return found[i].ID < found[j].ID
	})

	hits := make([]core.Hit, 0, len(found))
	for _, h := range found {
		hits = append(hits, core.Hit{
			Chunk: core.Chunk{DocID: h.DocID, Seq: int(h.Seq), Start: int(h.Start), Text: h.Text},
			Score: h.Score,
		})
	}
	return hits, nil
}

// milvusCollections implements collectionAPI over the Milvus v2 client.
type milvusCollections struct {
	client *milvusclient.Client
}

func metricType(m Metric) entity.MetricType {
	if m == MetricL2 {
		return entity.L2
	}
	return entity.COSINE
}

func (c *milvusCollections) Has(ctx context.Context, name string) (bool, error) {
	return c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
}

func (c *milvusCollections) Create(ctx context.Context, name, description string, dim int, metric Metric) error {
	schema := &entity.Schema{
		CollectionName: name,
		Description:    description,
		Fields: []*entity.Field{
			{
				Name:       FieldID,
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     FieldDocID,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": DefaultIDMaxLength,
				},
			},
			{
				Name:     FieldSeq,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     FieldStart,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     FieldText,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": DefaultMaxVarCharLength,
				},
			},
			{
				Name:     FieldVector,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(dim),
				},
			},
		},
	}

	if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		return err
	}

	idx := index.NewHNSWIndex(metricType(metric), 16, 200)
	task, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, FieldVector, idx))
	if err != nil {
		return fmt.Errorf("failed to create index on vector field: %w", err)
	}
	return task.Await(ctx)
}

func (c *milvusCollections) Insert(ctx context.Context, name string, dim int, rows []milvusRow) error {
	ids := make([]int64, len(rows))
	docIDs := make([]string, len(rows))
	seqs := make([]int64, len(rows))
	starts := make([]int64, len(rows))
	texts := make([]string, len(rows))
	vectors := make([][]float32, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		docIDs[i] = r.DocID
		seqs[i] = r.Seq
		starts[i] = r.Start
		texts[i] = r.Text
		vectors[i] = r.Vector
	}

	opt := milvusclient.NewColumnBasedInsertOption(name).
		WithInt64Column(FieldID, ids).
		WithVarcharColumn(FieldDocID, docIDs).
		WithInt64Column(FieldSeq, seqs).
		WithInt64Column(FieldStart, starts).
		WithVarcharColumn(FieldText, texts).
		WithFloatVectorColumn(FieldVector, dim, vectors)
	_, err := c.client.Insert(ctx, opt)
	return err
}

func (c *milvusCollections) Finalize(ctx context.Context, name string) error {
	flush, err := c.client.Flush(ctx, milvusclient.NewFlushOption(name))
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := flush.Await(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	load, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return load.Await(ctx)
}

func (c *milvusCollections) Description(ctx context.Context, name string) (string, error) {
	coll, err := c.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(name))
	if err != nil {
		return "", err
	}
	if coll.Schema == nil {
		return "", nil
	}
	return coll.Schema.Description, nil
}

func (c *milvusCollections) Search(ctx context.Context, name string, vec []float32, k int) ([]milvusHit, error) {
	opt := milvusclient.NewSearchOption(name, k, []entity.Vector{entity.FloatVector(vec)}).
		WithANNSField(FieldVector).
		WithOutputFields(FieldID, FieldDocID, FieldSeq, FieldStart, FieldText)
	results, err := c.client.Search(ctx, opt)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	rs := results[0]
	cols := map[string]interface {
		GetAsInt64(int) (int64, error)
		GetAsString(int) (string, error)
	}{}
	for _, f := range []string{FieldID, FieldDocID, FieldSeq, FieldStart, FieldText} {
		col := rs.GetColumn(f)
		if col == nil {
			return nil, fmt.Errorf("search result is missing column %s", f)
		}
		cols[f] = col
	}

	hits := make([]milvusHit, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		var h milvusHit
		var errs [5]error
		h.ID, errs[0] = cols[FieldID].GetAsInt64(i)
		h.DocID, errs[1] = cols[FieldDocID].GetAsString(i)
		h.Seq, errs[2] = cols[FieldSeq].GetAsInt64(i)
		h.Start, errs[3] = cols[FieldStart].GetAsInt64(i)
		h.Text, errs[4] = cols[FieldText].GetAsString(i)
		for _, err := range errs {
			if err != nil {
				return nil, fmt.Errorf("decoding search result %d: %w", i, err)
			}
		}
		if i < len(rs.Scores) {
			h.Score = rs.Scores[i]
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (c *milvusCollections) Drop(ctx context.Context, name string) error {
	return c.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(name))
}

func (c *milvusCollections) List(ctx context.Context) ([]string, error) {
	return c.client.ListCollections(ctx, milvusclient.NewListCollectionOption())
}

func (c *milvusCollections) Resolve(ctx context.Context, alias string) (string, bool, error) {
	names, err := c.List(ctx)
	if err != nil {
		return "", false, err
	}
	for _, name := range names {
		aliases, err := c.client.ListAliases(ctx, milvusclient.NewListAliasesOption(name))
		if err != nil {
			return "", false, err
		}
		if slices.Contains(aliases, alias) {
			return name, true, nil
		}
	}
	return "", false, nil
}

func (c *milvusCollections) SetAlias(ctx context.Context, alias, collection string, exists bool) error {
	if exists {
		return c.client.AlterAlias(ctx, milvusclient.NewAlterAliasOption(alias, collection))
	}
	return c.client.CreateAlias(ctx, milvusclient.NewCreateAliasOption(collection, alias))
}

func (c *milvusCollections) DropAlias(ctx context.Context, alias string) error {
	return c.client.DropAlias(ctx, milvusclient.NewDropAliasOption(alias))
}

func (c *milvusCollections) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}
