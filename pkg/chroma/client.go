package chroma

import (
	"context"
	"fmt"
	"os"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	"go.uber.org/zap"

	"kyra-backend/pkg/config"
)

const collectionName = "emails"

// Index stores precomputed email embeddings in a Chroma collection, scoped by user_id metadata
type Index struct {
	client     chroma.Client
	collection chroma.Collection
	log        *zap.Logger
}

func NewIndex(ctx context.Context, cfg config.ChromaConfig, geminiAPIKey string, log *zap.Logger) (*Index, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("chroma.api_key or chroma.base_url is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	// The collection needs an embedding function even though vectors are always supplied
	if geminiAPIKey != "" {
		os.Setenv("GEMINI_API_KEY", geminiAPIKey)
	}
	embedFunc, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithEnvAPIKey(),
		gemini.WithDefaultModel("text-embedding-004"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}

	opts := []chroma.ClientOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, chroma.WithBaseURL(cfg.BaseURL))
	} else {
		opts = append(opts, chroma.WithBaseURL(chroma.ChromaCloudEndpoint))
	}
	if cfg.APIKey != "" {
		opts = append(opts, chroma.WithCloudAPIKey(cfg.APIKey))
	}
	switch {
	case cfg.Database != "" && cfg.Tenant != "":
		opts = append(opts, chroma.WithDatabaseAndTenant(cfg.Database, cfg.Tenant))
	case cfg.Tenant != "":
		opts = append(opts, chroma.WithTenant(cfg.Tenant))
	}

	client, err := chroma.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	collection, err := client.GetOrCreateCollection(ctx, collectionName,
		chroma.WithEmbeddingFunctionCreate(embedFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	log.Named("chroma").Info("collection ready", zap.String("collection", collectionName))
	return &Index{client: client, collection: collection, log: log.Named("chroma")}, nil
}

// StoreEmbedding upserts the vector of an email; the email id is the document id
func (i *Index) StoreEmbedding(ctx context.Context, userID, emailID string, vec []float32) error {
	metadata, err := chroma.NewDocumentMetadataFromMap(map[string]interface{}{
		"user_id":  userID,
		"email_id": emailID,
	})
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}

	err = i.collection.Upsert(ctx,
		chroma.WithIDs(chroma.DocumentID(emailID)),
		chroma.WithMetadatas(metadata),
		chroma.WithEmbeddings(embeddings.NewEmbeddingFromFloat32(vec)),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert email embedding: %w", err)
	}
	return nil
}

// SearchSimilar returns the ids of the k emails of userID nearest to vec
func (i *Index) SearchSimilar(ctx context.Context, userID string, vec []float32, k int) ([]string, error) {
	results, err := i.collection.Query(ctx,
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vec)),
		chroma.WithNResults(k),
		chroma.WithWhereQuery(chroma.EqString("user_id", userID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if results == nil || results.CountGroups() == 0 {
		return []string{}, nil
	}

	idGroups := results.GetIDGroups()
	if len(idGroups) == 0 {
		return []string{}, nil
	}
	ids := make([]string, 0, len(idGroups[0]))
	for _, id := range idGroups[0] {
		ids = append(ids, string(id))
	}
	return ids, nil
}

// DeleteEmail removes an email from the index
func (i *Index) DeleteEmail(ctx context.Context, emailID string) error {
	if err := i.collection.Delete(ctx, chroma.WithIDsDelete(chroma.DocumentID(emailID))); err != nil {
		return fmt.Errorf("failed to delete email embedding: %w", err)
	}
	return nil
}

// Ping is used by the readiness check
func (i *Index) Ping(ctx context.Context) error {
	_, err := i.collection.Count(ctx)
	return err
}
