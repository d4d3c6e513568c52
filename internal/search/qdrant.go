package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"
)

const (
	restPort = 6333
	grpcPort = 6334

	upsertBatch = 256

	healthTTL     = 5 * time.Second
	healthTimeout = 3 * time.Second
)

// payloadIndexes are the payload fields filtered on, with their index type.
var payloadIndexes = []struct {
	field string
	typ   qdrant.FieldType
}{
	{"company_id", qdrant.FieldType_FieldTypeKeyword},
	{"agent_id", qdrant.FieldType_FieldTypeKeyword},
	{"kind", qdrant.FieldType_FieldTypeKeyword},
	{"created_at_unix", qdrant.FieldType_FieldTypeFloat},
}

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // REST or gRPC URL, e.g. "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// QdrantIndex is the Index backed by a Qdrant collection over gRPC.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthMu    sync.Mutex
	healthErr   error
	healthAt    time.Time
}

// parseQdrantURL returns the gRPC endpoint for a Qdrant URL. The REST port
// and a missing port both mean the default gRPC port.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL %q", rawURL)
	}
	port = grpcPort
	if s := u.Port(); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL %q", rawURL)
		}
		if p != restPort {
			port = p
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

// NewQdrantIndex creates the client. gRPC dials lazily, so an unreachable
// server surfaces on the first call rather than here.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant client for %s:%d: %w", host, port, err)
	}
	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection on first start and makes sure
// every payload index exists.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: check collection %q: %w", q.collection, err)
	}
	if !exists {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dims,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           qdrant.PtrOf(uint64(16)),
					EfConstruct: qdrant.PtrOf(uint64(128)),
				},
			}),
		})
		if err != nil {
			return fmt.Errorf("search: create collection %q: %w", q.collection, err)
		}
		q.logger.Info("qdrant: created collection", "collection", q.collection, "dims", q.dims)
	}

	for _, idx := range payloadIndexes {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      idx.field,
			FieldType:      qdrant.PtrOf(idx.typ),
		}); err != nil {
			return fmt.Errorf("search: index %q: %w", idx.field, err)
		}
	}
	return nil
}

func buildConditions(f Filter) []*qdrant.Condition {
	fields := f.fields()
	must := make([]*qdrant.Condition, len(fields))
	for i, kv := range fields {
		must[i] = qdrant.NewMatch(kv[0], kv[1])
	}
	return must
}

// Search returns the ids nearest to embedding inside f.
func (q *QdrantIndex) Search(ctx context.Context, f Filter, embedding []float32, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         &qdrant.Filter{Must: buildConditions(f)},
		Limit:          qdrant.PtrOf(uint64(limit)), //nolint:gosec // limit is positive
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant query: %w", err)
	}

	results := make([]Result, 0, len(scored))
	for _, sp := range scored {
		id, err := uuid.Parse(sp.GetId().GetUuid())
		if err != nil {
			q.logger.Warn("qdrant: skipping point with non-UUID id", "id", sp.GetId().String())
			continue
		}
		results = append(results, Result{ID: id, Score: sp.GetScore()})
	}
	return results, nil
}

func pointPayload(p Point) map[string]any {
	return map[string]any{
		"company_id":      p.CompanyID,
		"agent_id":        p.AgentID,
		"kind":            p.Kind,
		"created_at_unix": float64(p.CreatedAt.Unix()),
	}
}

// Upsert writes points in batches and waits for each batch to be applied.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	for start := 0; start < len(points); start += upsertBatch {
		batch := points[start:min(start+upsertBatch, len(points))]
		structs := make([]*qdrant.PointStruct, len(batch))
		for i, p := range batch {
			structs[i] = &qdrant.PointStruct{
				Id:      qdrant.NewID(p.ID.String()),
				Vectors: qdrant.NewVectorsDense(p.Embedding),
				Payload: qdrant.NewValueMap(pointPayload(p)),
			}
		}
		if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         structs,
		}); err != nil {
			return fmt.Errorf("search: qdrant upsert %d points: %w", len(batch), err)
		}
	}
	return nil
}

// Healthy reports whether Qdrant answers a health check. The answer is
// cached for healthTTL and concurrent callers share one RPC.
func (q *QdrantIndex) Healthy(_ context.Context) error {
	if fresh, err := q.cachedHealth(time.Now()); fresh {
		return err
	}
	v, _, _ := q.healthGroup.Do("health", func() (any, error) {
		// Detached from the caller: its cancellation must not poison the cache.
		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()
		var err error
		if _, herr := q.client.HealthCheck(ctx); herr != nil {
			err = fmt.Errorf("search: qdrant unhealthy: %w", herr)
		}
		q.setHealth(err, time.Now())
		return err, nil
	})
	err, _ := v.(error)
	return err
}

func (q *QdrantIndex) cachedHealth(now time.Time) (bool, error) {
	q.healthMu.Lock()
	defer q.healthMu.Unlock()
	if q.healthAt.IsZero() || now.Sub(q.healthAt) >= healthTTL {
		return false, nil
	}
	return true, q.healthErr
}

func (q *QdrantIndex) setHealth(err error, at time.Time) {
	q.healthMu.Lock()
	q.healthErr, q.healthAt = err, at
	q.healthMu.Unlock()
}

// Close shuts down the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
