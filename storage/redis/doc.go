// Package redis implements the storage interfaces on a redis server, for
// deployments where several chatvec processes share sync state.
//
//	client, err := redis.Dial(ctx, redis.DefaultConfig())
//	repo, err := redis.NewSyncStateRepository(client, redis.WithOwnedClient())
//	defer repo.Close()
package redis
