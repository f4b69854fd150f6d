package blockchain

import (
	"fmt"

	"btc-bridge/database"
	"btc-bridge/pkg/event"
	"btc-bridge/pkg/logger"

	"github.com/btcsuite/btcd/wire"
)

// ConfirmedBlockHandler applies the transactions of a block once the block
// is confirmed. Failures of single transactions are the handler's business;
// a returned error fails the header insertion.
type ConfirmedBlockHandler interface {
	ConfirmBlock(hash string, info *database.BlockHeaderInfo) error
}

type OriginKind uint8

const (
	KnownBlock OriginKind = iota
	CanonChain
	SideChain
	SideChainBecomingCanon
)

func (k OriginKind) String() string {
	switch k {
	case KnownBlock:
		return "KnownBlock"
	case CanonChain:
		return "CanonChain"
	case SideChain:
		return "SideChain"
	case SideChainBecomingCanon:
		return "SideChainBecomingCanon"
	}
	return fmt.Sprintf("OriginKind(%d)", uint8(k))
}

// BlockOrigin is the outcome of inserting a header.
type BlockOrigin struct {
	Kind   OriginKind
	Hash   string
	Height uint32

	// Ancestor is the height of the newest main chain block the side chain
	// forks from.
	Ancestor uint32

	// CanonizedRoute are the side chain blocks below the new header,
	// oldest first. DecanonizedRoute are the main chain blocks above the
	// ancestor, oldest first.
	CanonizedRoute   []string
	DecanonizedRoute []string

	// Refused is set when a reorganisation was refused because it would
	// unwind confirmed blocks. The header is kept as a side chain block.
	Refused bool
}

type Config struct {
	Params  Params
	Handler ConfirmedBlockHandler
	Sink    event.Sink
	Log     *logger.CustomLogger
}

type Chain interface {
	InitGenesis(header *wire.BlockHeader, height uint32) error
	InsertHeader(header *wire.BlockHeader) (*BlockOrigin, error)

	BestHeader() (string, *database.BlockHeaderInfo, error)
	HeaderInfo(hash string) (*database.BlockHeaderInfo, error)
	IsMainChain(hash string) (bool, error)
	MainHashAt(height uint32) (string, error)
	BlockLocator() (BlockLocator, error)

	Fault() (*database.ChainFault, error)
	ClearFault() error
}

type chain struct {
	store   database.Store
	params  Params
	handler ConfirmedBlockHandler
	sink    event.Sink
	log     *logger.CustomLogger
}

func NewChain(store database.Store, cfg Config) Chain {
	if cfg.Sink == nil {
		cfg.Sink = event.Discard
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewNopLogger()
	}
	return &chain{
		store:   store,
		params:  cfg.Params,
		handler: cfg.Handler,
		sink:    cfg.Sink,
		log:     cfg.Log,
	}
}

// InitGenesis stores the header the chain starts from. It is confirmed by
// definition.
func (c *chain) InitGenesis(header *wire.BlockHeader, height uint32) error {
	_, err := c.store.Genesis()
	if err == nil {
		return newErr(ErrGenesisExists, "genesis header already initialised")
	}
	if err != database.ErrNotFound {
		return err
	}

	hash := header.BlockHash().String()
	info, err := database.NewBlockHeaderInfo(header, height)
	if err != nil {
		return err
	}
	info.Confirmed = true

	if err := c.store.PutBlockHeader(hash, info); err != nil {
		return err
	}
	if err := c.store.SetNumberForHash(hash, height); err != nil {
		return err
	}
	if err := c.store.AddBlockHashFor(height, hash); err != nil {
		return err
	}
	if err := c.store.SetBestIndex(hash); err != nil {
		return err
	}
	if err := c.store.SetGenesis(&database.Genesis{Hash: hash, Height: height}); err != nil {
		return err
	}

	c.log.Infof("genesis header %s at height %d", hash, height)
	return nil
}

func (c *chain) best() (*storedHeader, error) {
	hash, err := c.store.BestIndex()
	if err == database.ErrNotFound {
		return nil, newErr(ErrNoGenesis, "header chain has no genesis")
	}
	if err != nil {
		return nil, err
	}
	best, err := c.loadHeader(hash)
	if err != nil {
		return nil, fmt.Errorf("best index %s: %w", hash, err)
	}
	return best, nil
}

// InsertHeader verifies a header against its parent, stores it and applies
// the fork choice.
func (c *chain) InsertHeader(header *wire.BlockHeader) (*BlockOrigin, error) {
	hash := header.BlockHash().String()

	known, err := c.store.HasBlockHeader(hash)
	if err != nil {
		return nil, err
	}
	if known {
		return &BlockOrigin{Kind: KnownBlock, Hash: hash}, nil
	}

	parent, err := c.loadHeader(header.PrevBlock.String())
	if err == database.ErrNotFound {
		return nil, newErrf(ErrUnknownParent, "parent %s of block %s is unknown", header.PrevBlock, hash)
	}
	if err != nil {
		return nil, err
	}

	best, err := c.best()
	if err != nil {
		return nil, err
	}

	if err := c.verifyHeader(header, parent); err != nil {
		return nil, err
	}

	height := parent.info.Height + 1
	if uint64(height)+uint64(c.params.Confirmations) < uint64(best.info.Height) {
		c.log.Errorf("fork too deep: block %s at %d, best %s at %d, confirmations %d",
			hash, height, best.hash, best.info.Height, c.params.Confirmations)
		return nil, newErrf(ErrAncientFork, "block %s at %d is below best %d minus confirmations",
			hash, height, best.info.Height)
	}

	origin, err := c.blockOrigin(hash, header, parent, best)
	if err != nil {
		return nil, err
	}

	info, err := database.NewBlockHeaderInfo(header, height)
	if err != nil {
		return nil, err
	}
	if err := c.store.PutBlockHeader(hash, info); err != nil {
		return nil, err
	}
	if err := c.store.AddBlockHashFor(height, hash); err != nil {
		return nil, err
	}

	switch origin.Kind {
	case CanonChain:
		if err := c.canonize(hash); err != nil {
			return nil, err
		}

	case SideChain:
		c.log.Debugf("side chain block %s at %d, ancestor %d", hash, height, origin.Ancestor)

	case SideChainBecomingCanon:
		refused, err := c.refuseDeepReorg(origin, best)
		if err != nil {
			return nil, err
		}
		if refused {
			origin.Kind = SideChain
			origin.Refused = true
			return origin, nil
		}
		if err := c.fork(origin); err != nil {
			return nil, err
		}
		if err := c.canonize(hash); err != nil {
			return nil, err
		}
		c.log.Infof("reorganised to %s at %d, ancestor %d, %d blocks unwound",
			hash, height, origin.Ancestor, len(origin.DecanonizedRoute))
		c.sink.Publish(ReorgEvent{
			Ancestor:    origin.Ancestor,
			Decanonized: origin.DecanonizedRoute,
			Canonized:   append(append([]string(nil), origin.CanonizedRoute...), hash),
		})

	default:
		return nil, fmt.Errorf("unexpected block origin %v", origin.Kind)
	}

	return origin, nil
}

// blockOrigin classifies a verified header that is not stored yet.
func (c *chain) blockOrigin(hash string, header *wire.BlockHeader, parent, best *storedHeader) (*BlockOrigin, error) {
	height := parent.info.Height + 1
	if parent.hash == best.hash {
		return &BlockOrigin{Kind: CanonChain, Hash: hash, Height: height}, nil
	}

	var route []string
	next := parent
	for forkLen := uint32(0); forkLen < c.params.MaxForkRoute; forkLen++ {
		nextHash := next.hash.String()
		number, onMain, err := c.store.NumberForHash(nextHash)
		if err != nil {
			return nil, err
		}
		if !onMain {
			route = append(route, nextHash)
			prev := next.header.PrevBlock.String()
			if next, err = c.loadHeader(prev); err != nil {
				if err == database.ErrNotFound {
					return nil, newErrf(ErrNotFound, "side chain header %s is missing", prev)
				}
				return nil, err
			}
			continue
		}

		origin := &BlockOrigin{
			Hash:     hash,
			Height:   height,
			Ancestor: number,
		}
		for i := len(route) - 1; i >= 0; i-- {
			origin.CanonizedRoute = append(origin.CanonizedRoute, route[i])
		}
		for h := number + 1; h <= best.info.Height; h++ {
			mainHash, err := c.mainHashAt(h)
			if err != nil {
				return nil, err
			}
			origin.DecanonizedRoute = append(origin.DecanonizedRoute, mainHash)
		}

		if height > best.info.Height {
			origin.Kind = SideChainBecomingCanon
		} else {
			origin.Kind = SideChain
		}
		return origin, nil
	}

	return nil, newErrf(ErrAncientFork, "no main chain ancestor within %d blocks of %s",
		c.params.MaxForkRoute, hash)
}

// refuseDeepReorg latches a chain fault when the reorganisation would unwind
// a confirmed block. Effects of confirmed blocks are never reverted.
func (c *chain) refuseDeepReorg(origin *BlockOrigin, best *storedHeader) (bool, error) {
	for _, h := range origin.DecanonizedRoute {
		info, err := c.store.BlockHeader(h)
		if err != nil {
			return false, err
		}
		if !info.Confirmed {
			continue
		}

		fault := &database.ChainFault{
			BestHash:  best.hash.String(),
			BestTip:   best.info.Height,
			ForkHash:  origin.Hash,
			Ancestor:  origin.Ancestor,
			Confirmed: info.Height,
		}
		if err := c.store.PutChainFault(fault); err != nil {
			return false, err
		}
		c.log.Errorf("refused reorganisation to %s at %d: confirmed block %s at %d would be unwound, operator action required",
			origin.Hash, origin.Height, h, info.Height)
		c.sink.Publish(ChainFaultEvent{Fault: *fault})
		return true, nil
	}
	return false, nil
}

func (c *chain) fork(origin *BlockOrigin) error {
	for i := len(origin.DecanonizedRoute) - 1; i >= 0; i-- {
		hash, err := c.decanonize()
		if err != nil {
			return err
		}
		if hash != origin.DecanonizedRoute[i] {
			return newErrf(ErrFork, "decanonized %s, expected %s", hash, origin.DecanonizedRoute[i])
		}
	}
	for _, hash := range origin.CanonizedRoute {
		if err := c.canonize(hash); err != nil {
			return err
		}
	}
	return nil
}

// decanonize moves the best tip to its parent and returns the old tip.
func (c *chain) decanonize() (string, error) {
	best, err := c.best()
	if err != nil {
		return "", err
	}
	hash := best.hash.String()
	if best.info.Confirmed {
		return "", newErrf(ErrFork, "cannot decanonize confirmed block %s", hash)
	}

	if err := c.store.DeleteNumberForHash(hash); err != nil {
		return "", err
	}
	if err := c.store.SetBestIndex(best.header.PrevBlock.String()); err != nil {
		return "", err
	}
	c.log.Debugf("decanonized %s at %d", hash, best.info.Height)
	return hash, nil
}

// canonize makes hash the best tip, confirms the block that became deep
// enough and prunes old heights.
func (c *chain) canonize(hash string) error {
	node, err := c.loadHeader(hash)
	if err != nil {
		return err
	}
	bestHash, err := c.store.BestIndex()
	if err != nil {
		return err
	}
	if node.header.PrevBlock.String() != bestHash {
		return newErrf(ErrCannotCanonize, "block %s does not extend best %s", hash, bestHash)
	}

	height := node.info.Height
	if err := c.store.SetNumberForHash(hash, height); err != nil {
		return err
	}
	if err := c.store.AddBlockHashFor(height, hash); err != nil {
		return err
	}
	if err := c.store.SetBestIndex(hash); err != nil {
		return err
	}
	c.log.Debugf("canonized %s at %d", hash, height)
	c.sink.Publish(NewBestEvent{Hash: hash, Height: height})

	if err := c.confirm(node); err != nil {
		return err
	}
	return c.prune(height)
}

// confirm marks the block Confirmations below tip as confirmed and hands it
// to the handler, once.
func (c *chain) confirm(tip *storedHeader) error {
	if tip.info.Height < c.params.Confirmations {
		return nil
	}
	target := tip.info.Height - c.params.Confirmations

	node := tip
	for node.info.Height > target {
		next, err := c.loadHeader(node.header.PrevBlock.String())
		if err == database.ErrNotFound {
			// below the genesis header
			return nil
		}
		if err != nil {
			return err
		}
		node = next
	}
	if node.info.Confirmed {
		return nil
	}

	hash := node.hash.String()
	node.info.Confirmed = true
	if err := c.store.PutBlockHeader(hash, node.info); err != nil {
		return err
	}
	c.log.Infof("confirmed block %s at %d with %d txs", hash, node.info.Height, len(node.info.TxIDs))
	c.sink.Publish(ConfirmedEvent{Hash: hash, Height: node.info.Height})

	if c.handler == nil {
		return nil
	}
	return c.handler.ConfirmBlock(hash, node.info)
}

// prune drops every header, with its transactions, at the height that fell
// out of the retained window.
func (c *chain) prune(height uint32) error {
	if height <= c.params.ReservedBlocks {
		return nil
	}
	del := height - c.params.ReservedBlocks

	hashes, err := c.store.BlockHashesFor(del)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		info, err := c.store.BlockHeader(h)
		if err != nil && err != database.ErrNotFound {
			return err
		}
		if info != nil {
			for _, txid := range info.TxIDs {
				if err := c.store.DeleteTx(txid); err != nil {
					return err
				}
			}
		}
		if err := c.store.DeleteBlockHeader(h); err != nil {
			return err
		}
		if err := c.store.DeleteNumberForHash(h); err != nil {
			return err
		}
		c.log.Debugf("pruned header %s at %d", h, del)
	}
	return c.store.DeleteBlockHashesFor(del)
}

func (c *chain) BestHeader() (string, *database.BlockHeaderInfo, error) {
	best, err := c.best()
	if err != nil {
		return "", nil, err
	}
	return best.hash.String(), best.info, nil
}

func (c *chain) HeaderInfo(hash string) (*database.BlockHeaderInfo, error) {
	info, err := c.store.BlockHeader(hash)
	if err == database.ErrNotFound {
		return nil, newErrf(ErrNotFound, "no header %s", hash)
	}
	return info, err
}

func (c *chain) IsMainChain(hash string) (bool, error) {
	return c.isMainChain(hash)
}

func (c *chain) isMainChain(hash string) (bool, error) {
	_, ok, err := c.store.NumberForHash(hash)
	return ok, err
}

func (c *chain) MainHashAt(height uint32) (string, error) {
	hash, err := c.mainHashAt(height)
	if err == database.ErrNotFound {
		return "", newErrf(ErrNotFound, "no main chain block at %d", height)
	}
	return hash, err
}

// mainHashAt picks the main chain block among all stored blocks at height.
func (c *chain) mainHashAt(height uint32) (string, error) {
	hashes, err := c.store.BlockHashesFor(height)
	if err != nil {
		return "", err
	}
	for _, h := range hashes {
		n, ok, err := c.store.NumberForHash(h)
		if err != nil {
			return "", err
		}
		if ok && n == height {
			return h, nil
		}
	}
	return "", database.ErrNotFound
}

func (c *chain) Fault() (*database.ChainFault, error) {
	return c.store.ChainFault()
}

func (c *chain) ClearFault() error {
	c.log.Info("chain fault cleared")
	return c.store.DeleteChainFault()
}
