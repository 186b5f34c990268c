package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("groundsql.store.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP. Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int

	// Collection is the training collection name.
	// Default: "groundsql_training"
	Collection string

	// VectorSize is the embedding dimensionality; must match the
	// embedding provider's output.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries bounds retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt.
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxMessageSize caps gRPC message sizes. Default: 32MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "groundsql_training"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size is required for qdrant", ErrInvalidConfig)
	}
	return nil
}

// isTransient reports whether a gRPC error is worth retrying.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.ResourceExhausted, grpccodes.Aborted:
		return true
	}
	return false
}

// QdrantStore persists training items in an external Qdrant server.
//
// Unlike chromem, Qdrant's filter language expresses the whole visibility
// predicate natively (must match on database_type, any-of match on tenant
// tags), so Nearest is a single filtered ANN query.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantStore connects to Qdrant, verifies health and ensures the
// training collection exists with cosine distance.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", ErrStorage, err)
	}

	s := &QdrantStore{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: qdrant health check: %v", ErrStorage, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
	)
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection: %v", ErrStorage, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: creating collection %s: %v", ErrStorage, s.config.Collection, err)
	}
	return nil
}

// retry runs op with exponential backoff on transient gRPC failures.
func (s *QdrantStore) retry(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt == s.config.MaxRetries {
			return fmt.Errorf("%w: %s: %v", ErrStorage, name, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s canceled: %v", ErrStorage, name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Insert upserts a single point whose payload carries the item tags.
func (s *QdrantStore) Insert(ctx context.Context, item *TrainingItem) (string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Insert")
	defer span.End()

	if err := validateItem(item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	stored := item.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	} else if _, err := uuid.Parse(stored.ID); err != nil {
		err := invalidf("id", "qdrant item ids must be UUIDs, got %q", stored.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = timeNow().UTC()
	}

	payload := map[string]*qdrant.Value{
		"content":        {Kind: &qdrant.Value_StringValue{StringValue: stored.Content}},
		metaDatabaseType: {Kind: &qdrant.Value_StringValue{StringValue: string(stored.DatabaseType)}},
		metaTenantID:     {Kind: &qdrant.Value_StringValue{StringValue: stored.TenantID}},
		metaKind:         {Kind: &qdrant.Value_StringValue{StringValue: string(stored.Kind)}},
		metaCreatedAt:    {Kind: &qdrant.Value_StringValue{StringValue: stored.CreatedAt.Format(time.RFC3339Nano)}},
	}
	if stored.Question != "" {
		payload[metaQuestion] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: stored.Question}}
	}

	err := s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: []*qdrant.PointStruct{{
				Id:      qdrant.NewIDUUID(stored.ID),
				Vectors: qdrant.NewVectors(stored.Vector...),
				Payload: payload,
			}},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.String("item_id", stored.ID))
	span.SetStatus(codes.Ok, "inserted")
	return stored.ID, nil
}

// visibilityFilter translates the predicate into a Qdrant filter.
func visibilityFilter(vis Visibility) *qdrant.Filter {
	conditions := []*qdrant.Condition{{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: metaDatabaseType,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: string(vis.DatabaseType)},
				},
			},
		},
	}}
	if len(vis.Tenants) == 1 {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: metaTenantID,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: vis.Tenants[0]},
					},
				},
			},
		})
	} else if len(vis.Tenants) > 1 {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: metaTenantID,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: vis.Tenants},
						},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

// Nearest is a single filtered ANN query; Qdrant applies the filter during
// graph traversal, before any truncation.
func (s *QdrantStore) Nearest(ctx context.Context, vector []float32, limit int, vis Visibility) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Nearest")
	defer span.End()

	span.SetAttributes(
		attribute.String("database_type", string(vis.DatabaseType)),
		attribute.Int("limit", limit),
		attribute.Bool("include_shared", sharedAware(vis)),
	)

	if err := validateQuery(vector, limit); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var points []*qdrant.ScoredPoint
	err := s.retry(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Filter:         visibilityFilter(vis),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matches := make([]Match, 0, len(points))
	for _, point := range points {
		item, err := itemFromQdrant(point.GetId().GetUuid(), point.GetPayload(), nil)
		if err != nil {
			s.logger.Warn("skipping malformed stored point",
				zap.String("id", point.GetId().GetUuid()), zap.Error(err))
			continue
		}
		// Qdrant reports cosine similarity; convert to distance.
		matches = append(matches, Match{Item: *item, Distance: 1 - point.GetScore()})
	}

	sortMatches(matches)
	span.SetAttributes(attribute.Int("results", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Delete removes the point by id, reporting false when it was absent.
func (s *QdrantStore) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("item_id", id))

	if _, err := s.Get(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			span.SetStatus(codes.Ok, "not found")
			return false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	err := s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewIDUUID(id)}},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetStatus(codes.Ok, "deleted")
	return true, nil
}

// Get fetches a point with payload and vector, or ErrNotFound.
func (s *QdrantStore) Get(ctx context.Context, id string) (*TrainingItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var points []*qdrant.RetrievedPoint
	err := s.retry(ctx, "get", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.config.Collection,
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrNotFound
	}

	point := points[0]
	var vector []float32
	if v := point.GetVectors().GetVector(); v != nil {
		vector = v.GetData()
	}
	return itemFromQdrant(point.GetId().GetUuid(), point.GetPayload(), vector)
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// itemFromQdrant rebuilds a TrainingItem from a point payload.
func itemFromQdrant(id string, payload map[string]*qdrant.Value, vector []float32) (*TrainingItem, error) {
	str := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	item := &TrainingItem{
		ID:           id,
		Content:      str("content"),
		Question:     str(metaQuestion),
		Kind:         ContentKind(str(metaKind)),
		Vector:       vector,
		DatabaseType: DatabaseType(str(metaDatabaseType)),
		TenantID:     str(metaTenantID),
	}
	if raw := str(metaCreatedAt); raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", raw, err)
		}
		item.CreatedAt = createdAt
	}
	if !item.DatabaseType.Valid() || !item.Kind.Valid() {
		return nil, fmt.Errorf("point %s has malformed tags", id)
	}
	return item, nil
}

var _ Store = (*QdrantStore)(nil)
