package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("ragcore.vectorstore.qdrant")

// qdrantSettings is the parsed qdrant provider configuration.
//
// Config keys:
//   - host (string, required): Qdrant server hostname or IP
//   - port (int, default 6334): gRPC port (not the 6333 REST port)
//   - api_key (string, optional): authentication key
//   - use_tls (bool, default false): TLS for the gRPC connection
//   - metric (string, default "cosine"): cosine, dot, euclid, manhattan
//   - index_type (string, default "hnsw"): hnsw, hnsw_sq, hnsw_pq, flat
type qdrantSettings struct {
	Host      string
	Port      int
	APIKey    string
	UseTLS    bool
	Metric    Metric
	IndexType IndexType
}

const (
	qdrantMaxMessageSize = 50 * 1024 * 1024
	qdrantMaxRetries     = 3
	qdrantRetryBackoff   = time.Second
	qdrantDialTimeout    = 5 * time.Second
)

func qdrantDefaults() Config {
	return Config{
		"port":       6334,
		"use_tls":    false,
		"metric":     string(MetricCosine),
		"index_type": string(IndexHNSW),
	}
}

// validateQdrantConfig reports every violated field at once.
func validateQdrantConfig(cfg Config) []string {
	var violations []string

	host, v := stringField(cfg, "host")
	if v != "" {
		violations = append(violations, v)
	} else if host == "" {
		violations = append(violations, "host: required")
	}

	port, v := intField(cfg, "port")
	if v != "" {
		violations = append(violations, v)
	} else if port <= 0 || port > 65535 {
		violations = append(violations, fmt.Sprintf("port: must be 1-65535, got %d", port))
	}

	if _, v := stringField(cfg, "api_key"); v != "" {
		violations = append(violations, v)
	}
	if _, v := boolField(cfg, "use_tls"); v != "" {
		violations = append(violations, v)
	}

	metricName, v := stringField(cfg, "metric")
	if v != "" {
		violations = append(violations, v)
	} else if metricName != "" {
		m, err := ParseMetric(metricName)
		if err != nil {
			violations = append(violations, fmt.Sprintf("metric: unknown metric %q", metricName))
		} else if qdrantDistance(m) == qdrant.Distance_UnknownDistance {
			violations = append(violations, fmt.Sprintf("metric: %q not supported by qdrant (supported: cosine, dot, euclid, manhattan)", metricName))
		}
	}

	indexName, v := stringField(cfg, "index_type")
	if v != "" {
		violations = append(violations, v)
	} else if indexName != "" {
		if _, err := ParseIndexType(indexName); err != nil {
			violations = append(violations, fmt.Sprintf("index_type: unknown index type %q", indexName))
		}
	}

	return violations
}

// qdrantDistance maps a metric family to the Qdrant distance enum.
// Hamming and Jaccard have no Qdrant equivalent and are rejected during
// config validation.
func qdrantDistance(m Metric) qdrant.Distance {
	switch m {
	case MetricCosine:
		return qdrant.Distance_Cosine
	case MetricDot:
		return qdrant.Distance_Dot
	case MetricEuclid:
		return qdrant.Distance_Euclid
	case MetricManhattan:
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_UnknownDistance
	}
}

// pointIDNamespace derives deterministic UUIDs from vector IDs. Qdrant point
// IDs must be UUIDs or integers; hashing the vector ID into a stable UUID
// preserves idempotent overwrite semantics across re-ingests. The original
// vector ID travels in the payload for retrieval.
var pointIDNamespace = uuid.MustParse("8c5b12fa-4f60-4cf1-9f26-6b53aacd3db1")

func qdrantPointID(vectorID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointIDNamespace, []byte(vectorID)).String())
}

// qdrantProvider implements Provider against a Qdrant server over gRPC.
type qdrantProvider struct {
	client   *qdrant.Client
	settings qdrantSettings
	logger   *zap.Logger
}

func newQdrantProvider(logger *zap.Logger) Provider {
	return &qdrantProvider{logger: logger}
}

// Initialize validates the merged configuration, connects, and health-checks
// the server. Validation failures list every violated field.
func (p *qdrantProvider) Initialize(ctx context.Context, cfg Config) error {
	if violations := validateQdrantConfig(cfg); len(violations) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(violations, "; "))
	}

	host, _ := stringField(cfg, "host")
	port, _ := intField(cfg, "port")
	apiKey, _ := stringField(cfg, "api_key")
	useTLS, _ := boolField(cfg, "use_tls")
	metricName, _ := stringField(cfg, "metric")
	indexName, _ := stringField(cfg, "index_type")
	metric, _ := ParseMetric(metricName)
	indexType, _ := ParseIndexType(indexName)

	p.settings = qdrantSettings{
		Host:      host,
		Port:      port,
		APIKey:    apiKey,
		UseTLS:    useTLS,
		Metric:    metric,
		IndexType: indexType,
	}

	qdrantConfig := &qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
		APIKey: apiKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(qdrantMaxMessageSize),
				grpc.MaxCallSendMsgSize(qdrantMaxMessageSize),
			),
		},
	}
	if !useTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, qdrantDialTimeout)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	p.client = client
	p.logger.Info("qdrant provider initialized",
		zap.String("host", host),
		zap.Int("port", port),
		zap.String("metric", metricName),
		zap.String("index_type", indexName),
	)
	return nil
}

func (p *qdrantProvider) ready() error {
	if p.client == nil {
		return ErrNotInitialized
	}
	return nil
}

// HasCollection reports whether a collection exists.
func (p *qdrantProvider) HasCollection(ctx context.Context, name string) (bool, error) {
	if err := p.ready(); err != nil {
		return false, err
	}

	var exists bool
	err := p.retryOperation(ctx, "has_collection", func() error {
		info, err := p.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", name, err)
	}
	return exists, nil
}

// CreateCollection declares the fixed schema: UUID primary key, a
// fixed-dimension dense vector, and payload fields for content and metadata.
// Index parameters are derived from the configured index type. Creating an
// existing collection is a logged no-op.
func (p *qdrantProvider) CreateCollection(ctx context.Context, schema CollectionSchema) error {
	ctx, span := tracer.Start(ctx, "qdrant.CreateCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", schema.Name),
		attribute.Int("dimension", schema.Dimension),
	)

	if err := p.ready(); err != nil {
		return err
	}
	if schema.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, schema.Dimension)
	}

	exists, err := p.HasCollection(ctx, schema.Name)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if exists {
		p.logger.Info("collection already exists, skipping create",
			zap.String("collection", schema.Name),
		)
		return nil
	}

	params := p.settings.IndexType.Params()

	create := &qdrant.CreateCollection{
		CollectionName: schema.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(schema.Dimension),
			Distance: qdrantDistance(p.settings.Metric),
		}),
	}
	if params.M > 0 {
		create.HnswConfig = &qdrant.HnswConfigDiff{
			M:           qdrant.PtrOf(params.M),
			EfConstruct: qdrant.PtrOf(params.EfConstruct),
		}
	}
	switch {
	case params.ScalarQuantization:
		create.QuantizationConfig = &qdrant.QuantizationConfig{
			Quantization: &qdrant.QuantizationConfig_Scalar{
				Scalar: &qdrant.ScalarQuantization{Type: qdrant.QuantizationType_Int8},
			},
		}
	case params.ProductQuantization:
		create.QuantizationConfig = &qdrant.QuantizationConfig{
			Quantization: &qdrant.QuantizationConfig_Product{
				Product: &qdrant.ProductQuantization{Compression: qdrant.CompressionRatio_x16},
			},
		}
	}

	err = p.retryOperation(ctx, "create_collection", func() error {
		return p.client.CreateCollection(ctx, create)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", schema.Name, err)
	}

	// Confirm the collection is queryable before returning.
	if _, err := p.client.GetCollectionInfo(ctx, schema.Name); err != nil {
		span.RecordError(err)
		return fmt.Errorf("collection %s not queryable after create: %w", schema.Name, err)
	}

	p.logger.Info("collection created",
		zap.String("collection", schema.Name),
		zap.Int("dimension", schema.Dimension),
		zap.String("index_type", string(p.settings.IndexType)),
	)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteCollection drops a collection. Deleting an absent collection is a
// no-op; Qdrant treats the drop as idempotent.
func (p *qdrantProvider) DeleteCollection(ctx context.Context, name string) error {
	if err := p.ready(); err != nil {
		return err
	}

	err := p.retryOperation(ctx, "delete_collection", func() error {
		return p.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil
		}
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return nil
}

// ListCollections returns all collection names on the server.
func (p *qdrantProvider) ListCollections(ctx context.Context) ([]string, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	var names []string
	err := p.retryOperation(ctx, "list_collections", func() error {
		result, err := p.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		names = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return names, nil
}

// Insert upserts documents as points. Empty input is a no-op. The whole batch
// goes in one upsert request, so a failure never leaves a silently-inserted
// subset; validation problems across the batch are reported as one aggregate
// error.
func (p *qdrantProvider) Insert(ctx context.Context, collection string, docs []VectorDocument) error {
	ctx, span := tracer.Start(ctx, "qdrant.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("document_count", len(docs)),
	)

	if err := p.ready(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	var invalid error
	for i, doc := range docs {
		if doc.ID == "" {
			invalid = multierr.Append(invalid, fmt.Errorf("document %d: missing ID", i))
		}
		if len(doc.Vector) == 0 {
			invalid = multierr.Append(invalid, fmt.Errorf("document %s: empty vector", doc.ID))
		}
		if len(doc.Vector) != len(docs[0].Vector) {
			invalid = multierr.Append(invalid, fmt.Errorf("%w: document %s has dimension %d, batch has %d", ErrDimensionMismatch, doc.ID, len(doc.Vector), len(docs[0].Vector)))
		}
	}
	if invalid != nil {
		span.RecordError(invalid)
		return invalid
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrantPointID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Vector...),
			Payload: qdrantPayload(doc),
		}
	}

	err := p.retryOperation(ctx, "upsert", func() error {
		_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points to collection %s: %w", len(points), collection, err)
	}

	span.SetAttributes(attribute.Int("points_inserted", len(points)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete removes points matching the structured filter. The predicate is
// translated into Qdrant's native filter form; values are passed as typed
// keyword matches, never interpolated into an expression string.
func (p *qdrantProvider) Delete(ctx context.Context, collection string, filter DeleteFilter) error {
	ctx, span := tracer.Start(ctx, "qdrant.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	if err := p.ready(); err != nil {
		return err
	}
	if err := filter.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	var selector *qdrant.PointsSelector
	if filter.DocumentID != "" {
		selector = &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{{
						ConditionOneOf: &qdrant.Condition_Field{
							Field: &qdrant.FieldCondition{
								Key: "document_id",
								Match: &qdrant.Match{
									MatchValue: &qdrant.Match_Keyword{Keyword: filter.DocumentID},
								},
							},
						},
					}},
				},
			},
		}
	} else {
		pointIDs := make([]*qdrant.PointId, len(filter.VectorIDs))
		for i, id := range filter.VectorIDs {
			pointIDs[i] = qdrantPointID(id)
		}
		selector = &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		}
	}

	err := p.retryOperation(ctx, "delete", func() error {
		_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         selector,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from collection %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search runs a similarity query, widens the HNSW search breadth from topK,
// and filters by normalized score. Results come back ordered by descending
// normalized score.
func (p *qdrantProvider) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "qdrant.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("top_k", opts.TopK),
	)

	if err := p.ready(); err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", opts.TopK)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrDimensionMismatch)
	}

	indexParams := p.settings.IndexType.Params()
	searchParams := &qdrant.SearchParams{}
	if indexParams.Exact {
		searchParams.Exact = qdrant.PtrOf(true)
	} else {
		searchParams.HnswEf = qdrant.PtrOf(SearchBreadth(opts.TopK))
	}

	var scored []*qdrant.ScoredPoint
	err := p.retryOperation(ctx, "search", func() error {
		res, err := p.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(opts.TopK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Params:         searchParams,
		})
		if err != nil {
			return err
		}
		scored = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(scored))
	for _, point := range scored {
		norm := Normalize(float64(point.Score), p.settings.Metric)
		if norm.Score < opts.ScoreThreshold {
			continue
		}

		result := SearchResult{
			Score:    norm.Score,
			Distance: norm.Distance,
			Metadata: make(map[string]any, len(point.Payload)),
		}
		for k, v := range point.Payload {
			val := qdrantValueToAny(v)
			result.Metadata[k] = val
			switch k {
			case "id":
				if s, ok := val.(string); ok {
					result.ID = s
				}
			case "content":
				if s, ok := val.(string); ok {
					result.Content = s
				}
			}
		}
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// CollectionStats returns point count and vector dimension.
func (p *qdrantProvider) CollectionStats(ctx context.Context, name string) (*CollectionStats, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	var stats *CollectionStats
	err := p.retryOperation(ctx, "collection_stats", func() error {
		info, err := p.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				return ErrCollectionNotFound
			}
			return err
		}

		stats = &CollectionStats{Count: int64(info.GetPointsCount())}
		if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
			stats.Dimension = int(params.GetSize())
		}
		return nil
	})
	if err != nil {
		if err == ErrCollectionNotFound {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("getting stats for collection %s: %w", name, err)
	}
	return stats, nil
}

// Cleanup closes the gRPC connection. Safe to call multiple times.
func (p *qdrantProvider) Cleanup() error {
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// retryOperation retries transient failures with exponential backoff.
func (p *qdrantProvider) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := qdrantRetryBackoff

	for attempt := 0; attempt <= qdrantMaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !isTransientError(err) {
			return err
		}

		if attempt == qdrantMaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, qdrantMaxRetries, err)
		}

		p.logger.Debug("retrying after transient error",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// isTransientError classifies gRPC failures worth retrying.
func isTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// qdrantPayload builds the point payload for a document. The "id" and
// "content" keys are reserved for the document's own ID and text; metadata
// entries with those names are dropped so they cannot mask them.
func qdrantPayload(doc VectorDocument) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		if k == "id" || k == "content" {
			continue
		}
		payload[k] = qdrantValue(v)
	}
	payload["id"] = qdrantValue(doc.ID)
	payload["content"] = qdrantValue(doc.Content)
	return payload
}

func qdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func qdrantValueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	default:
		return nil
	}
}

var _ Provider = (*qdrantProvider)(nil)
