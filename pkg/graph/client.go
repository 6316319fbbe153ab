// Package graph projects records and their merge history into Memgraph/Neo4j over Bolt
package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Config addresses the projection database. Database is empty for Memgraph and the Neo4j default.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

func (c Config) uri() string {
	return fmt.Sprintf("bolt://%s:%d", c.Host, c.Port)
}

func (c Config) auth() neo4j.AuthToken {
	if c.Username == "" {
		return neo4j.NoAuth()
	}
	return neo4j.BasicAuth(c.Username, c.Password, "")
}

// Client runs projection transactions against one database.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	uri      string
	logger   ectologger.Logger
}

// NewClient builds the driver. It does not dial; call VerifyConnectivity before first use.
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.uri(), cfg.auth())
	if err != nil {
		return nil, fmt.Errorf("graph: create driver for %s: %w", cfg.uri(), err)
	}
	return &Client{driver: driver, database: cfg.Database, uri: cfg.uri(), logger: logger}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// VerifyConnectivity dials the database; startup retries it and the health check reports it.
func (c *Client) VerifyConnectivity(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graph: %s unreachable: %w", c.uri, err)
	}
	return nil
}

// ExecuteWrite runs work in a retried write transaction.
func (c *Client) ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	return c.execute(ctx, "graph.Client.ExecuteWrite", neo4j.AccessModeWrite, work)
}

// ExecuteRead runs work in a retried read transaction.
func (c *Client) ExecuteRead(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	return c.execute(ctx, "graph.Client.ExecuteRead", neo4j.AccessModeRead, work)
}

func (c *Client) execute(ctx context.Context, spanName string, mode neo4j.AccessMode, work neo4j.ManagedTransactionWork) (any, error) {
	ctx, span := tracing.StartSpan(ctx, spanName)
	defer span.End()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: c.database})
	defer session.Close(ctx)

	var (
		out any
		err error
	)
	if mode == neo4j.AccessModeWrite {
		out, err = session.ExecuteWrite(ctx, work)
	} else {
		out, err = session.ExecuteRead(ctx, work)
	}
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(tracing.LogFields(ctx)).
			WithField("database", c.database).Debug("Graph transaction failed")
		return nil, fmt.Errorf("graph: %w", err)
	}
	return out, nil
}
