package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/claims-fulfillment/internal/casestore"
	"github.com/wolfman30/claims-fulfillment/internal/casestore/salesforce"
	"github.com/wolfman30/claims-fulfillment/internal/casestore/sqlstore"
	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
)

// caseStore selects the CRM backend named by CASE_STORE.
func (b *builder) caseStore(ctx context.Context) (casestore.Store, error) {
	switch b.cfg.CaseStore {
	case "salesforce":
		client, err := salesforce.New(salesforce.Config{
			LoginURL:      b.cfg.SalesforceLoginURL,
			APIVersion:    b.cfg.SalesforceAPIVersion,
			ClientID:      b.cfg.SalesforceClientID,
			ClientSecret:  b.cfg.SalesforceSecret,
			Username:      b.cfg.SalesforceUsername,
			Password:      b.cfg.SalesforcePassword,
			SecurityToken: b.cfg.SalesforceToken,
			Timeout:       b.cfg.SalesforceTimeout,
			MaxRetries:    b.cfg.SalesforceMaxRetries,
			Logger:        b.logger.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: salesforce: %w", err)
		}
		b.logger.Info("case store: salesforce", "api_version", b.cfg.SalesforceAPIVersion)
		return client, nil
	case "postgres":
		db, err := b.sqlDB(ctx)
		if err != nil {
			return nil, err
		}
		b.logger.Info("case store: postgres")
		return sqlstore.New(db), nil
	case "memory", "":
		b.logger.Warn("case store: in-memory; records are lost on restart")
		return casestore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown CASE_STORE %q", b.cfg.CaseStore)
	}
}

// turnStore selects the turn-log backend named by TURN_LOG_STORE.
func (b *builder) turnStore(ctx context.Context) (turnlog.Store, error) {
	switch b.cfg.TurnLogStore {
	case "firestore":
		store, err := turnlog.NewFirestoreStore(ctx, turnlog.FirestoreConfig{
			ProjectID:       b.cfg.FirestoreProjectID,
			CredentialsFile: b.cfg.FirestoreCredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		b.onClose(func() { _ = store.Close() })
		b.logger.Info("turn log: firestore", "project_id", b.cfg.FirestoreProjectID)
		return store, nil
	case "redis":
		client := b.redis(ctx)
		if client == nil {
			return nil, fmt.Errorf("bootstrap: TURN_LOG_STORE=redis requires a reachable REDIS_ADDR")
		}
		b.logger.Info("turn log: redis", "addr", b.cfg.RedisAddr)
		return turnlog.NewRedisStore(client, b.cfg.TurnLogTTL), nil
	case "postgres":
		pool, err := b.pgxPool(ctx)
		if err != nil {
			return nil, err
		}
		b.logger.Info("turn log: postgres")
		return turnlog.NewPostgresStore(pool), nil
	case "dynamodb":
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		b.logger.Info("turn log: dynamodb", "table", b.cfg.TurnLogTable)
		return turnlog.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), b.cfg.TurnLogTable, b.cfg.TurnLogTTL, b.logger), nil
	case "memory", "":
		b.logger.Warn("turn log: in-memory; transcripts are lost on restart")
		return turnlog.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown TURN_LOG_STORE %q", b.cfg.TurnLogStore)
	}
}

// turnQueue returns the queue between the webhook and the turn-log
// worker, or nil when turns are written inline.
func (b *builder) turnQueue(ctx context.Context) (turnlog.Queue, error) {
	if b.cfg.UseMemoryQueue {
		return turnlog.NewMemoryQueue(256), nil
	}
	if b.cfg.TurnLogQueueURL == "" {
		return nil, nil
	}
	awsCfg, err := b.aws(ctx)
	if err != nil {
		return nil, err
	}
	return turnlog.NewSQSQueue(sqs.NewFromConfig(awsCfg), b.cfg.TurnLogQueueURL), nil
}
