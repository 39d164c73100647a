package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/gcp"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// TableSpec describes a table the caller depends on. Schema and PartitionField
// are only used when the table has to be created.
type TableSpec struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
}

// Client streams analytics rows into one dataset.
type Client struct {
	client     *bigquery.Client
	dataset    *bigquery.Dataset
	autoCreate bool
	logg       *logger.Logger

	mu     sync.Mutex
	tables []string
}

// NewClient connects and verifies the dataset exists. Tables are checked per
// caller through EnsureTable.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID, err := gcp.ProjectID(gcpCfg)
	if err != nil {
		return nil, err
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	client := &Client{
		client:     bqClient,
		dataset:    bqClient.Dataset(datasetID),
		autoCreate: cfg.AutoCreateTables,
		logg:       logg,
	}
	if err := client.Ping(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "dataset", datasetID), "bigquery client initialized")
	}
	return client, nil
}

// EnsureTable verifies the table exists, creating it when auto-create is on.
// Ensured tables are rechecked by Ping.
func (c *Client) EnsureTable(ctx context.Context, def TableSpec) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return errTableNameRequired
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	table := c.dataset.Table(name)
	_, err := table.Metadata(ctx)
	switch {
	case err == nil:
	case hasStatus(err, http.StatusNotFound) && c.autoCreate:
		if err := c.createTable(ctx, table, def); err != nil {
			return err
		}
	case hasStatus(err, http.StatusNotFound):
		return fmt.Errorf("table %q does not exist", name)
	default:
		return fmt.Errorf("checking table %q: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, known := range c.tables {
		if known == name {
			return nil
		}
	}
	c.tables = append(c.tables, name)
	return nil
}

func (c *Client) createTable(ctx context.Context, table *bigquery.Table, def TableSpec) error {
	meta := &bigquery.TableMetadata{Schema: def.Schema}
	if def.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: def.PartitionField,
		}
	}
	err := table.Create(ctx, meta)
	if err != nil && !hasStatus(err, http.StatusConflict) {
		return fmt.Errorf("creating table %q: %w", table.TableID, err)
	}
	if err == nil && c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "table", table.TableID), "bigquery table created")
	}
	return nil
}

// Ping verifies the dataset and every ensured table are reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}

	c.mu.Lock()
	tables := append([]string(nil), c.tables...)
	c.mu.Unlock()
	for _, name := range tables {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return fmt.Errorf("checking table %q: %w", name, err)
		}
	}
	return nil
}

// InsertRows streams rows into table. Rows implementing bigquery.ValueSaver
// carry their own insert id for best-effort dedupe.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func hasStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
