package commands

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/wolfeidau/tenantctl/internal/registry"
	"github.com/wolfeidau/tenantctl/internal/registry/postgres"
)

type Globals struct {
	Debug   bool
	Version string
}

// RegistryFlags selects and configures the registry backend.
type RegistryFlags struct {
	Type          string `help:"registry backend (dynamodb or postgres)" default:"dynamodb" env:"TENANTCTL_REGISTRY_TYPE" enum:"dynamodb,postgres"`
	TableName     string `help:"registry table name (dynamodb)" default:"tenant_registry" env:"TENANTCTL_REGISTRY_TABLE"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	ConnString  string `help:"PostgreSQL connection string" env:"TENANTCTL_POSTGRES_CONNECTION_STRING"`
	AutoMigrate bool   `help:"run database migrations on startup" default:"false" env:"TENANTCTL_POSTGRES_AUTO_MIGRATE"`
	MaxConns    int32  `help:"maximum number of connections in pool" default:"10"`
	MinConns    int32  `help:"minimum number of connections in pool" default:"2"`
}

// buildRegistry constructs the configured registry backend. The returned
// close function is a no-op for DynamoDB.
func (r *RegistryFlags) buildRegistry(ctx context.Context, cfg aws.Config) (registry.Registry, func(), error) {
	switch r.Type {
	case "postgres":
		if r.PostgresStore.ConnString == "" {
			return nil, nil, fmt.Errorf("postgres connection string is required")
		}
		reg, err := postgres.NewRegistry(ctx, &postgres.PoolConfig{
			ConnString:  r.PostgresStore.ConnString,
			MaxConns:    r.PostgresStore.MaxConns,
			MinConns:    r.PostgresStore.MinConns,
			AutoMigrate: r.PostgresStore.AutoMigrate,
		})
		if err != nil {
			return nil, nil, err
		}
		return reg, reg.Close, nil

	default:
		client := dynamodb.NewFromConfig(cfg)
		return registry.NewDynamoDBRegistry(client, r.TableName), func() {}, nil
	}
}

// loadAWSConfig loads the control-plane account's AWS configuration.
func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
