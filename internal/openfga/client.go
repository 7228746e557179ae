package openfga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"churchadmin/internal/config"

	"github.com/openfga/go-sdk/client"
	"github.com/openfga/go-sdk/credentials"
)

// maxWritesPerRequest is the OpenFGA limit for a non transactional write.
const maxWritesPerRequest = 100

var ErrNotConfigured = errors.New("openfga store is not configured")

// Client wraps the OpenFGA SDK with the calls the dashboard makes.
type Client struct {
	fga    *client.OpenFgaClient
	config config.OpenFGAConfig
	logger *slog.Logger
}

func NewClient(cfg config.OpenFGAConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sdkConfig := &client.ClientConfiguration{
		ApiUrl:               cfg.APIURL,
		StoreId:              cfg.StoreID,
		AuthorizationModelId: cfg.AuthorizationModelID,
	}
	if cfg.APIToken != "" {
		sdkConfig.Credentials = &credentials.Credentials{
			Method: credentials.CredentialsMethodApiToken,
			Config: &credentials.Config{ApiToken: cfg.APIToken},
		}
	}

	fgaClient, err := client.NewSdkClient(sdkConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenFGA client: %w", err)
	}

	return &Client{
		fga:    fgaClient,
		config: cfg,
		logger: logger.With("component", "openfga"),
	}, nil
}

// Verify checks that the configured store and model exist.
func (c *Client) Verify(ctx context.Context) error {
	if c.config.StoreID == "" {
		return ErrNotConfigured
	}
	store, err := c.fga.GetStore(ctx).Execute()
	if err != nil {
		return fmt.Errorf("failed to get store: %w", err)
	}
	if store.Id != c.config.StoreID {
		return fmt.Errorf("store ID mismatch: expected %s, got %s", c.config.StoreID, store.Id)
	}

	modelResponse, err := c.fga.ReadAuthorizationModel(ctx).Execute()
	if err != nil {
		return fmt.Errorf("failed to read authorization model: %w", err)
	}
	if modelResponse.AuthorizationModel != nil && modelResponse.AuthorizationModel.Id != c.config.AuthorizationModelID {
		c.logger.Warn("Authorization model ID mismatch",
			"expected", c.config.AuthorizationModelID,
			"actual", modelResponse.AuthorizationModel.Id)
	}
	return nil
}

// Check asks whether user holds relation on object, e.g.
// user:u-1 member_update organization:org-1.
func (c *Client) Check(ctx context.Context, user, relation, object string) (bool, error) {
	if c.config.StoreID == "" {
		return false, ErrNotConfigured
	}
	resp, err := c.fga.Check(ctx).Body(client.ClientCheckRequest{
		User:     user,
		Relation: relation,
		Object:   object,
	}).Execute()
	if err != nil {
		c.logger.ErrorContext(ctx, "OpenFGA check failed",
			"user", user, "relation", relation, "object", object, "error", err)
		return false, err
	}

	allowed := resp.GetAllowed()
	c.logger.DebugContext(ctx, "OpenFGA check completed",
		"user", user, "relation", relation, "object", object, "allowed", allowed)
	return allowed, nil
}

// WriteTuples writes tuples in chunks the server accepts.
func (c *Client) WriteTuples(ctx context.Context, tuples []client.ClientTupleKey) error {
	for start := 0; start < len(tuples); start += maxWritesPerRequest {
		end := min(start+maxWritesPerRequest, len(tuples))
		_, err := c.fga.Write(ctx).Body(client.ClientWriteRequest{Writes: tuples[start:end]}).Execute()
		if err != nil {
			return fmt.Errorf("failed to write tuples %d-%d: %w", start, end, err)
		}
	}
	c.logger.DebugContext(ctx, "OpenFGA tuples written", "count", len(tuples))
	return nil
}

func (c *Client) DeleteTuples(ctx context.Context, tuples []client.ClientTupleKeyWithoutCondition) error {
	for start := 0; start < len(tuples); start += maxWritesPerRequest {
		end := min(start+maxWritesPerRequest, len(tuples))
		_, err := c.fga.Write(ctx).Body(client.ClientWriteRequest{Deletes: tuples[start:end]}).Execute()
		if err != nil {
			return fmt.Errorf("failed to delete tuples %d-%d: %w", start, end, err)
		}
	}
	return nil
}

type Store struct {
	ID   string
	Name string
}

func (c *Client) ListStores(ctx context.Context) ([]Store, error) {
	resp, err := c.fga.ListStores(ctx).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	stores := make([]Store, 0, len(resp.Stores))
	for _, s := range resp.Stores {
		stores = append(stores, Store{ID: s.Id, Name: s.Name})
	}
	return stores, nil
}

func (c *Client) CreateStore(ctx context.Context, name string) (string, error) {
	resp, err := c.fga.CreateStore(ctx).Body(client.ClientCreateStoreRequest{Name: name}).Execute()
	if err != nil {
		return "", fmt.Errorf("failed to create store: %w", err)
	}
	return resp.Id, nil
}

func (c *Client) DeleteStore(ctx context.Context, storeID string) error {
	_, err := c.fga.DeleteStore(ctx).Options(client.ClientDeleteStoreOptions{StoreId: &storeID}).Execute()
	if err != nil {
		return fmt.Errorf("failed to delete store: %w", err)
	}
	return nil
}

// ListModels returns the ids of every model written to a store, newest first.
func (c *Client) ListModels(ctx context.Context, storeID string) ([]string, error) {
	resp, err := c.fga.ReadAuthorizationModels(ctx).Options(client.ClientReadAuthorizationModelsOptions{StoreId: &storeID}).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to read models: %w", err)
	}
	ids := make([]string, 0, len(resp.AuthorizationModels))
	for _, m := range resp.AuthorizationModels {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// WriteModel writes the church authorization model into a store.
func (c *Client) WriteModel(ctx context.Context, storeID string) (string, error) {
	body, err := AuthorizationModel()
	if err != nil {
		return "", err
	}
	resp, err := c.fga.WriteAuthorizationModel(ctx).
		Body(body).
		Options(client.ClientWriteAuthorizationModelOptions{StoreId: &storeID}).
		Execute()
	if err != nil {
		return "", fmt.Errorf("failed to write authorization model: %w", err)
	}
	return resp.AuthorizationModelId, nil
}
