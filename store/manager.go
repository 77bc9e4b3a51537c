package store

import (
	"context"

	"github.com/danribes/mystic-ecom-sub013/types"
)

var customStoreCreators = make(map[string]types.StateStoreCreator)

func RegisterStateStore(storeName string, creator types.StateStoreCreator) {
	customStoreCreators[storeName] = creator
}

func New(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.StateStore, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	switch config.Type {
	case "redis":
		return NewRedisStore(ctx, logger, config)
	case "memory":
		return NewMemoryStore(), nil
	default:
		if creator, exists := customStoreCreators[config.Type]; exists {
			return creator(config.Config)
		}
		return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", config.Type)
	}
}
