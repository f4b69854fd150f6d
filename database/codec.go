package database

import (
	"fmt"

	"btc-bridge/pkg/primitives"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	keyBestIndex          = "BestIndex"
	keyGenesis            = "Genesis"
	keyUTXOMaxIndex       = "UTXOMaxIndex"
	keyCurrentProposal    = "CurrentWithdrawalProposal"
	keyWithdrawalDisabled = "WithdrawalDisabled"
	keyChainFault         = "ChainFault"
	keyApplicationMaxID   = "ApplicationMaxID"
	keyTotalIssuance      = "SystemTotalIssuance"
	keyBlockNumber        = "SystemBlockNumber"

	prefixBlockHeader    = "BlockHeaderFor/"
	prefixNumberForHash  = "NumberForHash/"
	prefixBlockHashFor   = "BlockHashFor/"
	prefixTxFor          = "TxFor/"
	prefixTxHandled      = "TxHandled/"
	prefixUTXOSet        = "UTXOSet/"
	prefixPendingDeposit = "PendingDepositMap/"
	prefixAddressBinding = "AddressBinding/"
	prefixAssetInfo      = "AssetInfo/"
	prefixAssetList      = "AssetList/"
	prefixAssetBalance   = "AssetBalance/"
	prefixTotalBalance   = "TotalAssetBalance/"
	prefixSystemFree     = "SystemFreeBalance/"
	prefixApplicationMap = "ApplicationMap/"
)

func key(prefix string, parts ...interface{}) []byte {
	s := prefix
	for i, p := range parts {
		if i > 0 {
			s += "/"
		}
		s += fmt.Sprint(p)
	}
	return []byte(s)
}

// numbers are zero padded so that key order follows numeric order
func heightKey(prefix string, n uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, n))
}

func assetBalanceKey(who primitives.AccountID, token primitives.Token) []byte {
	return key(prefixAssetBalance, who.String(), token)
}

func encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
