// Package runtime applies externally submitted calls to the bridge state.
// Calls are serialised; each one runs against a write overlay that is
// committed as a single batch only when the call succeeds. Events of a call
// are published after its commit.
package runtime

import (
	"bytes"
	"fmt"
	"sync"

	"btc-bridge/database"
	"btc-bridge/pkg/assets"
	"btc-bridge/pkg/blockchain"
	"btc-bridge/pkg/bridge"
	"btc-bridge/pkg/event"
	"btc-bridge/pkg/logger"
	"btc-bridge/pkg/primitives"
	"btc-bridge/pkg/records"

	"github.com/btcsuite/btcd/wire"
)

type Config struct {
	Chain  blockchain.Params
	Bridge bridge.Params
	Codec  bridge.AccountCodec

	NativeToken primitives.Token
	MemoLen     int

	// Genesis is the header the chain starts from, stored on first start.
	Genesis       *wire.BlockHeader
	GenesisHeight uint32

	// Sink receives the events of committed calls.
	Sink event.Sink
	Log  *logger.CustomLogger
}

func (c *Config) Validate() error {
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain params: %w", err)
	}
	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge params: %w", err)
	}
	if c.Chain.Confirmations != c.Bridge.Confirmations {
		return fmt.Errorf("chain confirmations %d differ from bridge confirmations %d",
			c.Chain.Confirmations, c.Bridge.Confirmations)
	}
	if c.Chain.Net != c.Bridge.Net {
		return fmt.Errorf("chain network %s differs from bridge network %s", c.Chain.Net.Name, c.Bridge.Net.Name)
	}
	if c.Genesis == nil {
		return fmt.Errorf("genesis header is required")
	}
	return nil
}

type Runtime struct {
	mu  sync.Mutex
	kv  database.KV
	cfg Config
	log *logger.CustomLogger
}

// modules is the set of components of one call, all on the same store.
type modules struct {
	store  database.Store
	ledger *assets.Ledger
	keeper *records.Keeper
	bridge *bridge.Bridge
	chain  blockchain.Chain
}

// New opens the runtime over kv and bootstraps the genesis state when kv is
// empty.
func New(kv database.KV, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NativeToken == "" {
		cfg.NativeToken = assets.DefaultNativeToken
	}
	if cfg.Sink == nil {
		cfg.Sink = event.Discard
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewNopLogger()
	}

	r := &Runtime{kv: kv, cfg: cfg, log: cfg.Log.SubLogger("RUNT")}

	g, err := database.NewStore(kv).Genesis()
	switch {
	case err == nil:
		want := cfg.Genesis.BlockHash().String()
		if g.Hash != want || g.Height != cfg.GenesisHeight {
			return nil, fmt.Errorf("stored genesis %s at %d, configured %s at %d",
				g.Hash, g.Height, want, cfg.GenesisHeight)
		}
		return r, nil
	case err != database.ErrNotFound:
		return nil, err
	}

	err = r.apply("genesis", func(m *modules) error {
		err := m.ledger.RegisterAsset(assets.Asset{
			Token:     cfg.NativeToken,
			TokenName: string(cfg.NativeToken),
			Chain:     primitives.ChainNative,
			Precision: 8,
			Desc:      "native token",
		}, true)
		if err != nil {
			return err
		}
		err = m.ledger.RegisterAsset(assets.Asset{
			Token:     cfg.Bridge.Token,
			TokenName: string(cfg.Bridge.Token),
			Chain:     primitives.ChainBitcoin,
			Precision: 8,
			Desc:      "bitcoin bridged by the trustee multisig",
		}, true)
		if err != nil {
			return err
		}
		return m.chain.InitGenesis(cfg.Genesis, cfg.GenesisHeight)
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap genesis: %w", err)
	}
	return r, nil
}

func (r *Runtime) newModules(store database.Store, sink event.Sink) *modules {
	ledger := assets.NewLedger(store, assets.Config{
		NativeToken: r.cfg.NativeToken,
		MemoLen:     r.cfg.MemoLen,
		Sink:        sink,
		Log:         r.cfg.Log.SubLogger("ASET"),
	})
	keeper := records.NewKeeper(store, ledger, records.Config{
		Validators: map[primitives.Chain]records.AddressValidator{
			primitives.ChainBitcoin: bridge.AddressValidator{Net: r.cfg.Bridge.Net},
		},
		Locker: bridge.Locker{Store: store},
		Sink:   sink,
		Log:    r.cfg.Log.SubLogger("RECS"),
	})
	b := bridge.NewBridge(store, keeper, bridge.Config{
		Params: r.cfg.Bridge,
		Codec:  r.cfg.Codec,
		Sink:   sink,
		Log:    r.cfg.Log.SubLogger("BRDG"),
	})
	chain := blockchain.NewChain(store, blockchain.Config{
		Params:  r.cfg.Chain,
		Handler: b,
		Sink:    sink,
		Log:     r.cfg.Log.SubLogger("CHAN"),
	})
	return &modules{store: store, ledger: ledger, keeper: keeper, bridge: b, chain: chain}
}

// apply runs fn as one state transition.
func (r *Runtime) apply(name string, fn func(m *modules) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	overlay := database.NewOverlay(r.kv)
	events := &event.Buffer{}
	if err := fn(r.newModules(database.NewStore(overlay), events)); err != nil {
		overlay.Discard()
		r.log.Debugf("%s failed, state unchanged: %v", name, err)
		return err
	}
	if err := overlay.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}

	for _, e := range events.Drain() {
		r.log.Debugf("%s: event %s", name, e.Name())
		r.cfg.Sink.Publish(e)
	}
	return nil
}

// view runs a read only query on committed state.
func (r *Runtime) view(fn func(m *modules) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.newModules(database.NewStore(r.kv), event.Discard))
}

// SetBlockNumber sets the runtime block height recorded on new applications
// and assets.
func (r *Runtime) SetBlockNumber(n uint64) error {
	return r.apply("SetBlockNumber", func(m *modules) error {
		return m.store.SetBlockNumber(n)
	})
}

// PushHeader inserts a serialised 80 byte Bitcoin header.
func (r *Runtime) PushHeader(raw []byte) (*blockchain.BlockOrigin, error) {
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	var origin *blockchain.BlockOrigin
	err := r.apply("PushHeader", func(m *modules) error {
		var err error
		origin, err = m.chain.InsertHeader(&header)
		return err
	})
	if err != nil {
		return nil, err
	}
	if origin.Kind != blockchain.KnownBlock {
		r.log.Infof("header %s at %d: %v", origin.Hash, origin.Height, origin.Kind)
	}
	return origin, nil
}

func (r *Runtime) PushTransaction(relay *bridge.RelayTx) (database.TxType, error) {
	var typ database.TxType
	err := r.apply("PushTransaction", func(m *modules) error {
		var err error
		typ, err = m.bridge.PushTransaction(relay)
		return err
	})
	return typ, err
}

func (r *Runtime) CreateWithdrawalProposal(ids []uint32, fee uint64) (*database.WithdrawalProposal, error) {
	var p *database.WithdrawalProposal
	err := r.apply("CreateWithdrawalProposal", func(m *modules) error {
		var err error
		p, err = m.bridge.CreateProposal(ids, fee)
		return err
	})
	return p, err
}

// SignWithdrawalProposal records a trustee vote; a nil tx is a veto.
func (r *Runtime) SignWithdrawalProposal(who primitives.AccountID, tx *wire.MsgTx) error {
	return r.apply("SignWithdrawalProposal", func(m *modules) error {
		return m.bridge.SignProposal(who, tx)
	})
}

func (r *Runtime) CancelWithdrawalProposal() error {
	return r.apply("CancelWithdrawalProposal", func(m *modules) error {
		return m.bridge.CancelProposal()
	})
}

func (r *Runtime) RegisterAsset(asset assets.Asset, online bool) error {
	return r.apply("RegisterAsset", func(m *modules) error {
		return m.ledger.RegisterAsset(asset, online)
	})
}

func (r *Runtime) RevokeAsset(token primitives.Token) error {
	return r.apply("RevokeAsset", func(m *modules) error {
		return m.ledger.RevokeAsset(token)
	})
}

func (r *Runtime) SetBalance(who primitives.AccountID, token primitives.Token, balances database.BalanceMap) error {
	return r.apply("SetBalance", func(m *modules) error {
		return m.ledger.SetBalance(who, token, balances)
	})
}

func (r *Runtime) Transfer(from, to primitives.AccountID, token primitives.Token, value uint64, memo string) error {
	return r.apply("Transfer", func(m *modules) error {
		return m.ledger.Transfer(from, to, token, value, memo)
	})
}

func (r *Runtime) ApplyWithdrawal(who primitives.AccountID, token primitives.Token, value uint64,
	addr, ext string) (uint32, error) {

	var id uint32
	err := r.apply("ApplyWithdrawal", func(m *modules) error {
		var err error
		id, err = m.keeper.ApplyWithdrawal(who, token, value, addr, ext)
		return err
	})
	return id, err
}

func (r *Runtime) RevokeWithdrawal(who primitives.AccountID, id uint32) error {
	return r.apply("RevokeWithdrawal", func(m *modules) error {
		return m.keeper.RevokeWithdrawal(who, id)
	})
}

func (r *Runtime) EnableWithdrawal() error {
	return r.apply("EnableWithdrawal", func(m *modules) error {
		return m.keeper.EnableWithdrawal()
	})
}

func (r *Runtime) ClearChainFault() error {
	return r.apply("ClearChainFault", func(m *modules) error {
		return m.chain.ClearFault()
	})
}

func (r *Runtime) AssetsOf(who primitives.AccountID) ([]assets.TokenBalances, error) {
	var out []assets.TokenBalances
	err := r.view(func(m *modules) error {
		var err error
		out, err = m.ledger.ValidAssetsOf(who)
		return err
	})
	return out, err
}

func (r *Runtime) BalanceOf(who primitives.AccountID, token primitives.Token) (database.BalanceMap, error) {
	var out database.BalanceMap
	err := r.view(func(m *modules) error {
		var err error
		out, err = m.ledger.BalanceOf(who, token)
		return err
	})
	return out, err
}

func (r *Runtime) DepositList() ([]bridge.RecordInfo, error) {
	var out []bridge.RecordInfo
	err := r.view(func(m *modules) error {
		var err error
		out, err = m.bridge.DepositList()
		return err
	})
	return out, err
}

func (r *Runtime) WithdrawalList() ([]bridge.RecordInfo, error) {
	var out []bridge.RecordInfo
	err := r.view(func(m *modules) error {
		var err error
		out, err = m.bridge.WithdrawalList()
		return err
	})
	return out, err
}

func (r *Runtime) DepositPage(p bridge.Page) (bridge.RecordPage, error) {
	var out bridge.RecordPage
	err := r.view(func(m *modules) error {
		var err error
		out, err = m.bridge.DepositPage(p)
		return err
	})
	return out, err
}

func (r *Runtime) WithdrawalPage(p bridge.Page) (bridge.RecordPage, error) {
	var out bridge.RecordPage
	err := r.view(func(m *modules) error {
		var err error
		out, err = m.bridge.WithdrawalPage(p)
		return err
	})
	return out, err
}

func (r *Runtime) BestHeader() (string, *database.BlockHeaderInfo, error) {
	var (
		hash string
		info *database.BlockHeaderInfo
	)
	err := r.view(func(m *modules) error {
		var err error
		hash, info, err = m.chain.BestHeader()
		return err
	})
	return hash, info, err
}

func (r *Runtime) HeaderInfo(hash string) (*database.BlockHeaderInfo, error) {
	var info *database.BlockHeaderInfo
	err := r.view(func(m *modules) error {
		var err error
		info, err = m.chain.HeaderInfo(hash)
		return err
	})
	return info, err
}

func (r *Runtime) BlockLocator() (blockchain.BlockLocator, error) {
	var locator blockchain.BlockLocator
	err := r.view(func(m *modules) error {
		var err error
		locator, err = m.chain.BlockLocator()
		return err
	})
	return locator, err
}

// ChainFault returns the latched reorganisation fault, nil when there is
// none.
func (r *Runtime) ChainFault() (*database.ChainFault, error) {
	var fault *database.ChainFault
	err := r.view(func(m *modules) error {
		f, err := m.chain.Fault()
		if err == database.ErrNotFound {
			return nil
		}
		fault = f
		return err
	})
	return fault, err
}

func (r *Runtime) UTXOs() ([]database.UTXO, error) {
	var out []database.UTXO
	err := r.view(func(m *modules) error {
		var err error
		out, err = m.bridge.UTXOs().All()
		return err
	})
	return out, err
}

func (r *Runtime) CurrentProposal() (*database.WithdrawalProposal, error) {
	var p *database.WithdrawalProposal
	err := r.view(func(m *modules) error {
		var err error
		p, err = m.bridge.CurrentProposal()
		return err
	})
	return p, err
}

func (r *Runtime) PendingDeposits() (map[string][]database.DepositCache, error) {
	var out map[string][]database.DepositCache
	err := r.view(func(m *modules) error {
		var err error
		out, err = m.bridge.PendingDeposits()
		return err
	})
	return out, err
}

func (r *Runtime) WithdrawalDisabled() (bool, error) {
	var disabled bool
	err := r.view(func(m *modules) error {
		var err error
		disabled, err = m.keeper.WithdrawalDisabled()
		return err
	})
	return disabled, err
}
