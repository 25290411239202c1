package qdrant

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"ragqa/internal/domain"
)

// Storage is a Qdrant-backed vector store using Euclid distance.
// Results are re-sorted by squared distance with insertion order breaking ties.
// Every point carries a seq payload recording its insertion order.
type Storage struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	apiKey      string
	dimension   int

	mu sync.Mutex
	// seq is the next insertion sequence number to hand out. Failed upserts
	// leave gaps, so it can run ahead of count.
	seq int64
	// count is the number of points known to be stored.
	count     int
	nextDocID int
}

// scrollPageSize bounds the points read per request while scanning at startup.
const scrollPageSize = 256

// Config contains connection details for a Qdrant server.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
	Dimension  int
}

// NewStorage connects to Qdrant and creates the collection if it is missing.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: qdrant requires a positive dimension", domain.ErrConfiguration)
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	s := newStorage(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg)
	s.conn = conn
	if err := s.init(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func newStorage(points pb.PointsClient, collections pb.CollectionsClient, cfg Config) *Storage {
	return &Storage{
		points:      points,
		collections: collections,
		collection:  cfg.Collection,
		apiKey:      cfg.APIKey,
		dimension:   cfg.Dimension,
	}
}

func (s *Storage) init(ctx context.Context) error {
	ctx = s.withAuth(ctx)
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if !exists.GetResult().GetExists() {
		_, err := s.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
				Size:     uint64(s.dimension),
				Distance: pb.Distance_Euclid,
			}}},
		})
		if err != nil {
			return fmt.Errorf("qdrant create collection: %w", err)
		}
	}
	return s.scanExisting(ctx)
}

// scanExisting reads the bookkeeping payload of every stored point so that
// new points continue the insertion sequence and new documents never reuse a
// stored doc_id.
func (s *Storage) scanExisting(ctx context.Context) error {
	limit := uint32(scrollPageSize)
	var (
		offset   *pb.PointId
		count    int
		maxSeq   int64 = -1
		maxDocID       = -1
	)
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: []string{"seq", "doc_id"}},
			}},
		})
		if err != nil {
			return fmt.Errorf("qdrant scroll: %w", err)
		}
		for _, pt := range resp.GetResult() {
			count++
			p := pt.GetPayload()
			maxSeq = max(maxSeq, p["seq"].GetIntegerValue())
			maxDocID = max(maxDocID, int(p["doc_id"].GetIntegerValue()))
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = count
	s.seq = maxSeq + 1
	s.nextDocID = maxDocID + 1
	return nil
}

// NextDocID returns the first doc_id not used by a point stored before this process started.
func (s *Storage) NextDocID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextDocID
}

// Add upserts one point per chunk. Len counts the points only once Qdrant
// has acknowledged the write.
func (s *Storage) Add(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != s.dimension {
			return domain.DimensionError(s.dimension, len(v))
		}
	}
	// Sequence numbers are reserved under the lock so concurrent uploads never share one.
	s.mu.Lock()
	first := s.seq
	s.seq += int64(len(chunks))
	s.mu.Unlock()

	points := make([]*pb.PointStruct, len(chunks))
	for i, ch := range chunks {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.NewString()}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: toFloat32(vectors[i])}}},
			Payload: chunkPayload(ch, first+int64(i)),
		}
	}
	wait := true
	_, err := s.points.Upsert(s.withAuth(ctx), &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	s.mu.Lock()
	s.count += len(chunks)
	s.mu.Unlock()
	return nil
}

// Search returns up to topK points nearest to vector. Stored vectors are not
// fetched back, so result entries carry a nil Vector.
//
// Qdrant picks arbitrarily among points tied at the k-th distance, so the
// request is widened until the points past position k are strictly farther.
// The tied points are then ordered by insertion before trimming to topK.
// Distances are computed by Qdrant on float32 vectors.
func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top k must be positive, got %d", topK)
	}
	if len(vector) != s.dimension {
		return nil, domain.DimensionError(s.dimension, len(vector))
	}
	query := toFloat32(vector)
	limit := topK + 1
	var hits []hit
	for {
		var err error
		hits, err = s.search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		// Fewer points than asked for means the whole collection was returned.
		if len(hits) < limit || hits[len(hits)-1].score > hits[topK-1].score {
			break
		}
		limit *= 2
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(a.score, b.score); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]domain.SearchResult, len(hits))
	for i, h := range hits {
		d := float64(h.score)
		out[i] = domain.SearchResult{Entry: domain.VectorEntry{Chunk: h.chunk}, Distance: d * d}
	}
	return out, nil
}

type hit struct {
	chunk domain.Chunk
	score float32
	seq   int64
}

// search runs one Qdrant query and returns its hits sorted by score.
func (s *Storage) search(ctx context.Context, query []float32, limit int) ([]hit, error) {
	resp, err := s.points.Search(s.withAuth(ctx), &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	hits := make([]hit, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		ch, seq, err := payloadChunk(pt.GetPayload())
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit{chunk: ch, score: pt.GetScore(), seq: seq})
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return cmp.Compare(a.score, b.score) })
	return hits, nil
}

// Len returns the number of points present at startup plus those whose
// upsert has completed since.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close releases the gRPC connection.
func (s *Storage) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Storage) withAuth(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

func chunkPayload(ch domain.Chunk, seq int64) map[string]*pb.Value {
	return map[string]*pb.Value{
		"text":        {Kind: &pb.Value_StringValue{StringValue: ch.Text}},
		"source":      {Kind: &pb.Value_StringValue{StringValue: ch.SourceFilename}},
		"doc_id":      {Kind: &pb.Value_IntegerValue{IntegerValue: int64(ch.DocID)}},
		"chunk_index": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(ch.Index)}},
		"seq":         {Kind: &pb.Value_IntegerValue{IntegerValue: seq}},
	}
}

func payloadChunk(p map[string]*pb.Value) (domain.Chunk, int64, error) {
	text, ok := p["text"]
	if !ok {
		return domain.Chunk{}, 0, errors.New("qdrant point without text payload")
	}
	return domain.Chunk{
		Text:           text.GetStringValue(),
		SourceFilename: p["source"].GetStringValue(),
		DocID:          int(p["doc_id"].GetIntegerValue()),
		Index:          int(p["chunk_index"].GetIntegerValue()),
	}, p["seq"].GetIntegerValue(), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

var _ domain.VectorStore = (*Storage)(nil)
