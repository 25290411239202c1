package qdrant

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"ragqa/internal/domain"
)

type fakeCollections struct {
	pb.CollectionsClient
	exists  bool
	created *pb.CreateCollection
}

func (f *fakeCollections) CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, _ ...grpc.CallOption) (*pb.CollectionExistsResponse, error) {
	return &pb.CollectionExistsResponse{Result: &pb.CollectionExists{Exists: f.exists}}, nil
}

func (f *fakeCollections) Create(ctx context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.created = in
	return &pb.CollectionOperationResponse{Result: true}, nil
}

type fakePoints struct {
	pb.PointsClient
	stored    []map[string]*pb.Value
	upserted  []*pb.PointStruct
	upsertErr error
	scored    []*pb.ScoredPoint
	searches  []uint64
	lastKey   string
}

// Scroll pages through stored, using the position in the slice as the point id.
func (f *fakePoints) Scroll(ctx context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	start := int(in.GetOffset().GetNum())
	end := min(start+int(in.GetLimit()), len(f.stored))
	resp := &pb.ScrollResponse{}
	for i := start; i < end; i++ {
		resp.Result = append(resp.Result, &pb.RetrievedPoint{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(i)}},
			Payload: f.stored[i],
		})
	}
	if end < len(f.stored) {
		resp.NextPageOffset = &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(end)}}
	}
	return resp, nil
}

func (f *fakePoints) Upsert(ctx context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	if md, ok := metadata.FromOutgoingContext(ctx); ok && len(md.Get("api-key")) > 0 {
		f.lastKey = md.Get("api-key")[0]
	}
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserted = append(f.upserted, in.Points...)
	return &pb.PointsOperationResponse{}, nil
}

// Search returns the first Limit entries of scored, which tests keep in score order.
func (f *fakePoints) Search(ctx context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.searches = append(f.searches, in.GetLimit())
	n := min(int(in.GetLimit()), len(f.scored))
	return &pb.SearchResponse{Result: f.scored[:n]}, nil
}

func storedPoints(n int) []map[string]*pb.Value {
	out := make([]map[string]*pb.Value, n)
	for i := range out {
		out[i] = chunkPayload(domain.Chunk{Text: "old", DocID: i / 2, Index: i % 2}, int64(i))
	}
	return out
}

func newTestStorage(t *testing.T, points *fakePoints, cols *fakeCollections) *Storage {
	t.Helper()
	s := newStorage(points, cols, Config{Collection: "docs", Dimension: 2, APIKey: "secret"})
	require.NoError(t, s.init(context.Background()))
	return s
}

func TestStorage_InitCreatesMissingCollection(t *testing.T) {
	cols := &fakeCollections{}
	s := newTestStorage(t, &fakePoints{stored: storedPoints(3)}, cols)

	require.NotNil(t, cols.created)
	assert.Equal(t, "docs", cols.created.CollectionName)
	params := cols.created.GetVectorsConfig().GetParams()
	assert.EqualValues(t, 2, params.GetSize())
	assert.Equal(t, pb.Distance_Euclid, params.GetDistance())
	assert.Equal(t, 3, s.Len())
}

func TestStorage_InitKeepsExistingCollection(t *testing.T) {
	cols := &fakeCollections{exists: true}
	newTestStorage(t, &fakePoints{}, cols)
	assert.Nil(t, cols.created)
}

func TestStorage_AddWritesPayload(t *testing.T) {
	points := &fakePoints{}
	s := newTestStorage(t, points, &fakeCollections{exists: true})

	chunks := []domain.Chunk{
		{Text: "alpha", DocID: 1, SourceFilename: "a.txt", Index: 0},
		{Text: "beta", DocID: 1, SourceFilename: "a.txt", Index: 1},
	}
	require.NoError(t, s.Add(context.Background(), chunks, [][]float64{{1, 2}, {3, 4}}))
	require.Len(t, points.upserted, 2)
	assert.Equal(t, "secret", points.lastKey)

	ch, seq, err := payloadChunk(points.upserted[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, chunks[1], ch)
	assert.EqualValues(t, 1, seq)
	assert.Equal(t, 2, s.Len())
}

func TestStorage_InitResumesSequenceAndDocIDs(t *testing.T) {
	points := &fakePoints{stored: storedPoints(600)}
	s := newTestStorage(t, points, &fakeCollections{exists: true})

	assert.Equal(t, 600, s.Len())
	assert.Equal(t, 300, s.NextDocID())

	require.NoError(t, s.Add(context.Background(), []domain.Chunk{{Text: "new", DocID: 300}}, [][]float64{{1, 1}}))
	_, seq, err := payloadChunk(points.upserted[0].Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 600, seq)
}

func TestStorage_InitEmptyCollection(t *testing.T) {
	s := newTestStorage(t, &fakePoints{}, &fakeCollections{exists: true})
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.NextDocID())
}

func TestStorage_FailedUpsertIsNotCounted(t *testing.T) {
	points := &fakePoints{upsertErr: errors.New("unavailable")}
	s := newTestStorage(t, points, &fakeCollections{exists: true})

	chunks := []domain.Chunk{{Text: "a"}, {Text: "b"}, {Text: "c"}}
	err := s.Add(context.Background(), chunks, [][]float64{{1, 1}, {2, 2}, {3, 3}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant upsert")
	assert.Equal(t, 0, s.Len())

	points.upsertErr = nil
	require.NoError(t, s.Add(context.Background(), chunks[:1], [][]float64{{1, 1}}))
	assert.Equal(t, 1, s.Len())
}

func TestStorage_AddDimensionMismatch(t *testing.T) {
	s := newTestStorage(t, &fakePoints{}, &fakeCollections{exists: true})
	err := s.Add(context.Background(), []domain.Chunk{{Text: "x"}}, [][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestStorage_SearchSquaresDistanceAndBreaksTies(t *testing.T) {
	points := &fakePoints{}
	s := newTestStorage(t, points, &fakeCollections{exists: true})
	points.scored = []*pb.ScoredPoint{
		{Score: 2, Payload: chunkPayload(domain.Chunk{Text: "far", Index: 0}, 0)},
		{Score: 1, Payload: chunkPayload(domain.Chunk{Text: "tie later", Index: 2}, 5)},
		{Score: 1, Payload: chunkPayload(domain.Chunk{Text: "tie first", Index: 1}, 4)},
	}

	res, err := s.Search(context.Background(), []float64{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "tie first", res[0].Entry.Chunk.Text)
	assert.Equal(t, "tie later", res[1].Entry.Chunk.Text)
	assert.Equal(t, "far", res[2].Entry.Chunk.Text)
	assert.InDelta(t, 4.0, res[2].Distance, 1e-6)
}

func TestStorage_SearchWidensPastTiesAtK(t *testing.T) {
	points := &fakePoints{}
	s := newTestStorage(t, points, &fakeCollections{exists: true})
	// Qdrant may return either tied point first; the earlier insertion must win.
	points.scored = []*pb.ScoredPoint{
		{Score: 1, Payload: chunkPayload(domain.Chunk{Text: "tie later"}, 5)},
		{Score: 1, Payload: chunkPayload(domain.Chunk{Text: "tie first"}, 4)},
		{Score: 1, Payload: chunkPayload(domain.Chunk{Text: "tie last"}, 9)},
		{Score: 2, Payload: chunkPayload(domain.Chunk{Text: "far"}, 0)},
	}

	res, err := s.Search(context.Background(), []float64{0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "tie first", res[0].Entry.Chunk.Text)
	assert.Equal(t, []uint64{2, 4}, points.searches)
}

func TestStorage_SearchStopsWhenPastKIsFarther(t *testing.T) {
	points := &fakePoints{}
	s := newTestStorage(t, points, &fakeCollections{exists: true})
	points.scored = []*pb.ScoredPoint{
		{Score: 1, Payload: chunkPayload(domain.Chunk{Text: "near"}, 3)},
		{Score: 2, Payload: chunkPayload(domain.Chunk{Text: "mid"}, 1)},
		{Score: 3, Payload: chunkPayload(domain.Chunk{Text: "far"}, 0)},
	}

	res, err := s.Search(context.Background(), []float64{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "near", res[0].Entry.Chunk.Text)
	assert.Equal(t, "mid", res[1].Entry.Chunk.Text)
	assert.Equal(t, []uint64{3}, points.searches)
}

func TestStorage_SearchRejectsWrongDimension(t *testing.T) {
	s := newTestStorage(t, &fakePoints{}, &fakeCollections{exists: true})
	_, err := s.Search(context.Background(), []float64{1}, 3)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestNewStorage_RequiresDimension(t *testing.T) {
	_, err := NewStorage(context.Background(), Config{Host: "localhost", Collection: "docs"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
