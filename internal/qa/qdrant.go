package qa

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/apversus/sauai/internal/logging"
)

// pageContentField is where LangChain-style loaders keep the chunk text.
const pageContentField = "page_content"

// QdrantConfig locates a Qdrant collection over gRPC.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	TextField  string
}

// QdrantRetriever searches a Qdrant collection.
type QdrantRetriever struct {
	cfg         QdrantConfig
	conn        *grpc.ClientConn
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	log         *logging.Logger
}

// NewQdrantRetriever creates the gRPC connection. It does not dial until the
// first call; use CheckCollection to verify the server.
func NewQdrantRetriever(cfg QdrantConfig, log *logging.Logger) (*QdrantRetriever, error) {
	if cfg.TextField == "" {
		cfg.TextField = "text"
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect to %s: %w", addr, err)
	}
	return newQdrantRetriever(cfg, conn, log), nil
}

func newQdrantRetriever(cfg QdrantConfig, conn *grpc.ClientConn, log *logging.Logger) *QdrantRetriever {
	return &QdrantRetriever{
		cfg:         cfg,
		conn:        conn,
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		log:         log.Sub("qdrant"),
	}
}

func (q *QdrantRetriever) withAuth(ctx context.Context) context.Context {
	if q.cfg.APIKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", q.cfg.APIKey)
}

// Retrieve returns the k points closest to vector, best first.
func (q *QdrantRetriever) Retrieve(ctx context.Context, vector []float32, k int) ([]Passage, error) {
	resp, err := q.points.Search(q.withAuth(ctx), &qdrant.SearchPoints{
		CollectionName: q.cfg.Collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %s: %w", q.cfg.Collection, err)
	}

	passages := make([]Passage, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		p := Passage{
			Text:  payloadString(point.GetPayload(), q.cfg.TextField, pageContentField),
			Score: point.GetScore(),
		}
		if src := payloadString(point.GetPayload(), "source"); src != "" {
			p.Source = src
		} else if md, ok := point.GetPayload()["metadata"]; ok {
			p.Source = payloadString(md.GetStructValue().GetFields(), "source")
		}
		passages = append(passages, p)
	}
	q.log.Debug().Int("hits", len(passages)).Str("collection", q.cfg.Collection).Msg("qdrant search")
	return passages, nil
}

// CheckCollection verifies the server answers and the collection exists.
func (q *QdrantRetriever) CheckCollection(ctx context.Context) error {
	resp, err := q.collections.List(q.withAuth(ctx), &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range resp.GetCollections() {
		if c.GetName() == q.cfg.Collection {
			return nil
		}
	}
	return fmt.Errorf("qdrant: collection %q does not exist", q.cfg.Collection)
}

// Close releases the gRPC connection.
func (q *QdrantRetriever) Close() error {
	return q.conn.Close()
}

// payloadString returns the first non-empty string value among keys.
func payloadString(payload map[string]*qdrant.Value, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s := v.GetStringValue(); s != "" {
				return s
			}
		}
	}
	return ""
}
