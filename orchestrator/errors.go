package orchestrator

import "github.com/ceyewan/bulwark/xerrors"

// 以下错误都在联系任何 provider 之前返回，属于调用方或配置的编程错误
var (
	ErrInvalidConfig     = xerrors.New("orchestrator: invalid config")
	ErrStoreRequired     = xerrors.New("orchestrator: cache store is required")
	ErrDuplicateProvider = xerrors.New("orchestrator: duplicate provider name")
	ErrUnknownProvider   = xerrors.New("orchestrator: unknown provider in chain")
	ErrInvalidProvider   = xerrors.New("orchestrator: provider does not implement its capability")
	ErrInvalidSubject    = xerrors.New("orchestrator: invalid subject")
	ErrInvalidMessage    = xerrors.New("orchestrator: invalid message")
	ErrUnknownCapability = xerrors.New("orchestrator: unknown or uncacheable capability")
)
