package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/savaki/scheduled-tasks/internal/dao/deploymentdao"
	"github.com/savaki/scheduled-tasks/internal/dao/lockdao"
	"github.com/savaki/scheduled-tasks/internal/services"
)

// ProvideLockDAO returns nil when no lock table is configured, which
// disables deploy locking.
func ProvideLockDAO(ctx context.Context, client *dynamodb.Client, config *services.Config) *lockdao.DAO {
	if config.LockTable == "" {
		zerolog.Ctx(ctx).Debug().Msg("No lock table configured, deploy locking disabled")
		return nil
	}
	return lockdao.New(client, config.LockTable)
}

// ProvideDeploymentDAO records apply history in the lock table. It is nil
// whenever locking is disabled.
func ProvideDeploymentDAO(client *dynamodb.Client, config *services.Config) *deploymentdao.DAO {
	if config.LockTable == "" {
		return nil
	}
	return deploymentdao.New(client, config.LockTable)
}
