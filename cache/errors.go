package cache

import "github.com/ceyewan/bulwark/xerrors"

var (
	ErrNilConfig              = xerrors.New("cache: config is nil")
	ErrInvalidConfig          = xerrors.New("cache: invalid config")
	ErrRedisConnectorRequired = xerrors.New("cache: redis connector is required, use WithRedisConnector")
	ErrClosed                 = xerrors.New("cache: closed")
	ErrNotCounter             = xerrors.New("cache: value is not a counter")
)
