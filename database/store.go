package database

import (
	"fmt"

	"btc-bridge/pkg/primitives"
)

type store struct {
	db ReadWriter
}

// Store is the typed view of the persisted bridge and ledger state. Every
// getter of a single record returns ErrNotFound when the record is absent.
type Store interface {
	BestIndex() (string, error)
	SetBestIndex(hash string) error
	Genesis() (*Genesis, error)
	SetGenesis(g *Genesis) error

	BlockHeader(hash string) (*BlockHeaderInfo, error)
	HasBlockHeader(hash string) (bool, error)
	PutBlockHeader(hash string, info *BlockHeaderInfo) error
	DeleteBlockHeader(hash string) error
	NumberForHash(hash string) (uint32, bool, error)
	SetNumberForHash(hash string, height uint32) error
	DeleteNumberForHash(hash string) error
	BlockHashesFor(height uint32) ([]string, error)
	AddBlockHashFor(height uint32, hash string) error
	DeleteBlockHashesFor(height uint32) error

	TxInfo(txid string) (*TxInfo, error)
	HasTx(txid string) (bool, error)
	PutTxInfo(txid string, info *TxInfo) error
	DeleteTx(txid string) error
	TxHandled(txid string) (bool, error)
	SetTxHandled(txid string) error

	UTXOMaxIndex() (uint64, error)
	SetUTXOMaxIndex(index uint64) error
	UTXO(index uint64) (*UTXO, error)
	PutUTXO(index uint64, u *UTXO) error

	PendingDeposits(addr string) ([]DepositCache, error)
	SetPendingDeposits(addr string, list []DepositCache) error
	DeletePendingDeposits(addr string) error
	AllPendingDeposits() (map[string][]DepositCache, error)
	AddressBinding(addr string) (*AddressBinding, error)
	PutAddressBinding(addr string, b *AddressBinding) error

	WithdrawalProposal() (*WithdrawalProposal, error)
	PutWithdrawalProposal(p *WithdrawalProposal) error
	DeleteWithdrawalProposal() error
	WithdrawalDisabled() (bool, error)
	SetWithdrawalDisabled(disabled bool) error
	ChainFault() (*ChainFault, error)
	PutChainFault(f *ChainFault) error
	DeleteChainFault() error

	AssetInfo(token primitives.Token) (*AssetRecord, error)
	PutAssetInfo(rec *AssetRecord) error
	AssetList(chain primitives.Chain) ([]primitives.Token, error)
	SetAssetList(chain primitives.Chain, tokens []primitives.Token) error
	AssetBalance(who primitives.AccountID, token primitives.Token) (BalanceMap, error)
	HasAssetBalance(who primitives.AccountID, token primitives.Token) (bool, error)
	PutAssetBalance(who primitives.AccountID, token primitives.Token, m BalanceMap) error
	TotalAssetBalance(token primitives.Token) (BalanceMap, error)
	PutTotalAssetBalance(token primitives.Token, m BalanceMap) error
	SystemFreeBalance(who primitives.AccountID) (uint64, bool, error)
	SetSystemFreeBalance(who primitives.AccountID, value uint64) error
	TotalIssuance() (uint64, error)
	SetTotalIssuance(value uint64) error

	Application(id uint32) (*Application, error)
	PutApplication(a *Application) error
	DeleteApplication(id uint32) error
	Applications() ([]Application, error)
	NextApplicationID() (uint32, error)

	BlockNumber() (uint64, error)
	SetBlockNumber(n uint64) error
}

func NewStore(db ReadWriter) Store {
	return &store{db: db}
}

func (s *store) get(k []byte, v interface{}) error {
	data, err := s.db.Get(k)
	if err != nil {
		return err
	}
	if err := decode(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", k, err)
	}
	return nil
}

func (s *store) put(k []byte, v interface{}) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", k, err)
	}
	return s.db.Put(k, data)
}

// getOr treats a missing key as the zero value.
func (s *store) getOr(k []byte, v interface{}) (bool, error) {
	err := s.get(k, v)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *store) BestIndex() (string, error) {
	var hash string
	err := s.get([]byte(keyBestIndex), &hash)
	return hash, err
}

func (s *store) SetBestIndex(hash string) error {
	return s.put([]byte(keyBestIndex), hash)
}

func (s *store) Genesis() (*Genesis, error) {
	var g Genesis
	if err := s.get([]byte(keyGenesis), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *store) SetGenesis(g *Genesis) error {
	return s.put([]byte(keyGenesis), g)
}

func (s *store) BlockHeader(hash string) (*BlockHeaderInfo, error) {
	var info BlockHeaderInfo
	if err := s.get(key(prefixBlockHeader, hash), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *store) HasBlockHeader(hash string) (bool, error) {
	return s.db.Has(key(prefixBlockHeader, hash))
}

func (s *store) PutBlockHeader(hash string, info *BlockHeaderInfo) error {
	return s.put(key(prefixBlockHeader, hash), info)
}

func (s *store) DeleteBlockHeader(hash string) error {
	return s.db.Delete(key(prefixBlockHeader, hash))
}

func (s *store) NumberForHash(hash string) (uint32, bool, error) {
	var n uint32
	ok, err := s.getOr(key(prefixNumberForHash, hash), &n)
	return n, ok, err
}

func (s *store) SetNumberForHash(hash string, height uint32) error {
	return s.put(key(prefixNumberForHash, hash), height)
}

func (s *store) DeleteNumberForHash(hash string) error {
	return s.db.Delete(key(prefixNumberForHash, hash))
}

func (s *store) BlockHashesFor(height uint32) ([]string, error) {
	var hashes []string
	_, err := s.getOr(heightKey(prefixBlockHashFor, uint64(height)), &hashes)
	return hashes, err
}

func (s *store) AddBlockHashFor(height uint32, hash string) error {
	hashes, err := s.BlockHashesFor(height)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if h == hash {
			return nil
		}
	}
	return s.put(heightKey(prefixBlockHashFor, uint64(height)), append(hashes, hash))
}

func (s *store) DeleteBlockHashesFor(height uint32) error {
	return s.db.Delete(heightKey(prefixBlockHashFor, uint64(height)))
}

func (s *store) TxInfo(txid string) (*TxInfo, error) {
	var info TxInfo
	if err := s.get(key(prefixTxFor, txid), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *store) HasTx(txid string) (bool, error) {
	return s.db.Has(key(prefixTxFor, txid))
}

func (s *store) PutTxInfo(txid string, info *TxInfo) error {
	return s.put(key(prefixTxFor, txid), info)
}

func (s *store) DeleteTx(txid string) error {
	if err := s.db.Delete(key(prefixTxFor, txid)); err != nil {
		return err
	}
	return s.db.Delete(key(prefixTxHandled, txid))
}

func (s *store) TxHandled(txid string) (bool, error) {
	return s.db.Has(key(prefixTxHandled, txid))
}

func (s *store) SetTxHandled(txid string) error {
	return s.put(key(prefixTxHandled, txid), true)
}

func (s *store) UTXOMaxIndex() (uint64, error) {
	var n uint64
	_, err := s.getOr([]byte(keyUTXOMaxIndex), &n)
	return n, err
}

func (s *store) SetUTXOMaxIndex(index uint64) error {
	return s.put([]byte(keyUTXOMaxIndex), index)
}

func (s *store) UTXO(index uint64) (*UTXO, error) {
	var u UTXO
	if err := s.get(heightKey(prefixUTXOSet, index), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *store) PutUTXO(index uint64, u *UTXO) error {
	return s.put(heightKey(prefixUTXOSet, index), u)
}

func (s *store) PendingDeposits(addr string) ([]DepositCache, error) {
	var list []DepositCache
	_, err := s.getOr(key(prefixPendingDeposit, addr), &list)
	return list, err
}

func (s *store) SetPendingDeposits(addr string, list []DepositCache) error {
	return s.put(key(prefixPendingDeposit, addr), list)
}

func (s *store) DeletePendingDeposits(addr string) error {
	return s.db.Delete(key(prefixPendingDeposit, addr))
}

func (s *store) AllPendingDeposits() (map[string][]DepositCache, error) {
	out := make(map[string][]DepositCache)
	err := s.db.Iterate([]byte(prefixPendingDeposit), func(k, v []byte) error {
		var list []DepositCache
		if err := decode(v, &list); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		out[string(k[len(prefixPendingDeposit):])] = list
		return nil
	})
	return out, err
}

func (s *store) AddressBinding(addr string) (*AddressBinding, error) {
	var b AddressBinding
	if err := s.get(key(prefixAddressBinding, addr), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *store) PutAddressBinding(addr string, b *AddressBinding) error {
	return s.put(key(prefixAddressBinding, addr), b)
}

func (s *store) WithdrawalProposal() (*WithdrawalProposal, error) {
	var p WithdrawalProposal
	if err := s.get([]byte(keyCurrentProposal), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *store) PutWithdrawalProposal(p *WithdrawalProposal) error {
	return s.put([]byte(keyCurrentProposal), p)
}

func (s *store) DeleteWithdrawalProposal() error {
	return s.db.Delete([]byte(keyCurrentProposal))
}

func (s *store) WithdrawalDisabled() (bool, error) {
	var disabled bool
	_, err := s.getOr([]byte(keyWithdrawalDisabled), &disabled)
	return disabled, err
}

func (s *store) SetWithdrawalDisabled(disabled bool) error {
	return s.put([]byte(keyWithdrawalDisabled), disabled)
}

func (s *store) ChainFault() (*ChainFault, error) {
	var f ChainFault
	if err := s.get([]byte(keyChainFault), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *store) PutChainFault(f *ChainFault) error {
	return s.put([]byte(keyChainFault), f)
}

func (s *store) DeleteChainFault() error {
	return s.db.Delete([]byte(keyChainFault))
}

func (s *store) AssetInfo(token primitives.Token) (*AssetRecord, error) {
	var rec AssetRecord
	if err := s.get(key(prefixAssetInfo, token), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *store) PutAssetInfo(rec *AssetRecord) error {
	return s.put(key(prefixAssetInfo, rec.Token), rec)
}

func (s *store) AssetList(chain primitives.Chain) ([]primitives.Token, error) {
	var tokens []primitives.Token
	_, err := s.getOr(key(prefixAssetList, uint8(chain)), &tokens)
	return tokens, err
}

func (s *store) SetAssetList(chain primitives.Chain, tokens []primitives.Token) error {
	return s.put(key(prefixAssetList, uint8(chain)), tokens)
}

func (s *store) AssetBalance(who primitives.AccountID, token primitives.Token) (BalanceMap, error) {
	m := make(BalanceMap)
	_, err := s.getOr(assetBalanceKey(who, token), &m)
	return m, err
}

func (s *store) HasAssetBalance(who primitives.AccountID, token primitives.Token) (bool, error) {
	return s.db.Has(assetBalanceKey(who, token))
}

func (s *store) PutAssetBalance(who primitives.AccountID, token primitives.Token, m BalanceMap) error {
	return s.put(assetBalanceKey(who, token), m)
}

func (s *store) TotalAssetBalance(token primitives.Token) (BalanceMap, error) {
	m := make(BalanceMap)
	_, err := s.getOr(key(prefixTotalBalance, token), &m)
	return m, err
}

func (s *store) PutTotalAssetBalance(token primitives.Token, m BalanceMap) error {
	return s.put(key(prefixTotalBalance, token), m)
}

func (s *store) SystemFreeBalance(who primitives.AccountID) (uint64, bool, error) {
	var v uint64
	ok, err := s.getOr(key(prefixSystemFree, who.String()), &v)
	return v, ok, err
}

func (s *store) SetSystemFreeBalance(who primitives.AccountID, value uint64) error {
	return s.put(key(prefixSystemFree, who.String()), value)
}

func (s *store) TotalIssuance() (uint64, error) {
	var v uint64
	_, err := s.getOr([]byte(keyTotalIssuance), &v)
	return v, err
}

func (s *store) SetTotalIssuance(value uint64) error {
	return s.put([]byte(keyTotalIssuance), value)
}

func (s *store) Application(id uint32) (*Application, error) {
	var a Application
	if err := s.get(heightKey(prefixApplicationMap, uint64(id)), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *store) PutApplication(a *Application) error {
	return s.put(heightKey(prefixApplicationMap, uint64(a.ID)), a)
}

func (s *store) DeleteApplication(id uint32) error {
	return s.db.Delete(heightKey(prefixApplicationMap, uint64(id)))
}

func (s *store) Applications() ([]Application, error) {
	var out []Application
	err := s.db.Iterate([]byte(prefixApplicationMap), func(k, v []byte) error {
		var a Application
		if err := decode(v, &a); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (s *store) NextApplicationID() (uint32, error) {
	var id uint32
	if _, err := s.getOr([]byte(keyApplicationMaxID), &id); err != nil {
		return 0, err
	}
	if err := s.put([]byte(keyApplicationMaxID), id+1); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *store) BlockNumber() (uint64, error) {
	var n uint64
	_, err := s.getOr([]byte(keyBlockNumber), &n)
	return n, err
}

func (s *store) SetBlockNumber(n uint64) error {
	return s.put([]byte(keyBlockNumber), n)
}
