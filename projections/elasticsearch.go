package projections

import (
	"context"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/changeorder/config"
)

// Constants for index names
const (
	CasesIndex      = "cases"
	CaseEventsIndex = "case-events"
)

// NewElasticsearchClient creates a new Elasticsearch client
func NewElasticsearchClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	elasticCfg := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	}

	client, err := elasticsearch.NewClient(elasticCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}

	// Check the connection
	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("error connecting to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch returned error: %s", res.String())
	}

	log.Info().Msg("Successfully connected to Elasticsearch")
	return client, nil
}

// FormatIndex adds the prefix to the index name
func FormatIndex(prefix, indexName string) string {
	if prefix == "" {
		return indexName
	}
	return prefix + "-" + indexName
}

// EnsureIndices ensures that all required indices exist
func EnsureIndices(ctx context.Context, client *elasticsearch.Client, prefix string) error {
	for _, index := range []string{CasesIndex, CaseEventsIndex} {
		formattedIndex := FormatIndex(prefix, index)

		exists, err := indexExists(ctx, client, formattedIndex)
		if err != nil {
			return err
		}

		if !exists {
			log.Info().Msgf("Creating index %s", formattedIndex)
			if err := createIndex(ctx, client, formattedIndex); err != nil {
				return err
			}
		}
	}

	return nil
}

func indexExists(ctx context.Context, client *elasticsearch.Client, index string) (bool, error) {
	res, err := client.Indices.Exists([]string{index}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("error checking if index %s exists: %w", index, err)
	}
	defer res.Body.Close()

	return res.StatusCode == http.StatusOK, nil
}

func createIndex(ctx context.Context, client *elasticsearch.Client, index string) error {
	res, err := client.Indices.Create(index, client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error creating index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index %s: %s", index, res.String())
	}

	return nil
}
