package assets

import "btc-bridge/pkg/primitives"

type MoveEvent struct {
	Token    primitives.Token
	From     primitives.AccountID
	FromType primitives.AssetType
	To       primitives.AccountID
	ToType   primitives.AssetType
	Value    uint64
}

func (MoveEvent) Name() string { return "assets.Move" }

type IssueEvent struct {
	Token primitives.Token
	Who   primitives.AccountID
	Value uint64
}

func (IssueEvent) Name() string { return "assets.Issue" }

type DestroyEvent struct {
	Token primitives.Token
	Who   primitives.AccountID
	Value uint64
}

func (DestroyEvent) Name() string { return "assets.Destroy" }

type SetEvent struct {
	Token primitives.Token
	Who   primitives.AccountID
	Type  primitives.AssetType
	Value uint64
}

func (SetEvent) Name() string { return "assets.Set" }

type RegisterEvent struct {
	Token  primitives.Token
	Online bool
}

func (RegisterEvent) Name() string { return "assets.Register" }

type RevokeEvent struct {
	Token primitives.Token
}

func (RevokeEvent) Name() string { return "assets.Revoke" }
