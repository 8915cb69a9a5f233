package chain

import (
	"sort"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

type ID string

const (
	Bitcoin        ID = "bitcoin"
	BitcoinTestnet ID = "bitcoin-testnet"
	Litecoin       ID = "litecoin"
	Ethereum       ID = "ethereum"
	Sepolia        ID = "sepolia"
	BNB            ID = "bnb"
	Polygon        ID = "polygon"
	Arbitrum       ID = "arbitrum"
	Optimism       ID = "optimism"
	Base           ID = "base"
	Avalanche      ID = "avalanche"
	Solana         ID = "solana"
	XRP            ID = "xrp"
	Cosmos         ID = "cosmos"
)

type Family string

const (
	FamilyUTXO   Family = "utxo"
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
	FamilyXRP    Family = "xrp"
	FamilyCosmos Family = "cosmos"
)

// SLIP-44 coin types.
const (
	CoinTypeBitcoin  uint32 = 0
	CoinTypeTestnet  uint32 = 1
	CoinTypeLitecoin uint32 = 2
	CoinTypeEthereum uint32 = 60
	CoinTypeCosmos   uint32 = 118
	CoinTypeXRP      uint32 = 144
	CoinTypeSolana   uint32 = 501
)

type Info struct {
	ID          ID     `json:"id"`
	Family      Family `json:"family"`
	AppName     string `json:"appName"`
	CoinType    uint32 `json:"coinType"`
	NumericID   uint64 `json:"numericId,omitempty"`
	Testnet     bool   `json:"testnet"`
	DefaultPath string `json:"defaultPath"`
}

var registry = map[ID]Info{
	Bitcoin:        {ID: Bitcoin, Family: FamilyUTXO, AppName: "Bitcoin", CoinType: CoinTypeBitcoin, DefaultPath: "m/84'/0'/0'/0/0"},
	BitcoinTestnet: {ID: BitcoinTestnet, Family: FamilyUTXO, AppName: "Bitcoin Test", CoinType: CoinTypeTestnet, Testnet: true, DefaultPath: "m/84'/1'/0'/0/0"},
	Litecoin:       {ID: Litecoin, Family: FamilyUTXO, AppName: "Litecoin", CoinType: CoinTypeLitecoin, DefaultPath: "m/84'/2'/0'/0/0"},
	Ethereum:       {ID: Ethereum, Family: FamilyEVM, AppName: "Ethereum", CoinType: CoinTypeEthereum, NumericID: 1, DefaultPath: "m/44'/60'/0'/0/0"},
	Sepolia:        {ID: Sepolia, Family: FamilyEVM, AppName: "Ethereum", CoinType: CoinTypeEthereum, NumericID: 11155111, Testnet: true, DefaultPath: "m/44'/60'/0'/0/0"},
	BNB:            {ID: BNB, Family: FamilyEVM, AppName: "Ethereum", CoinType: CoinTypeEthereum, NumericID: 56, DefaultPath: "m/44'/60'/0'/0/0"},
	Polygon:        {ID: Polygon, Family: FamilyEVM, AppName: "Ethereum", CoinType: CoinTypeEthereum, NumericID: 137, DefaultPath: "m/44'/60'/0'/0/0"},
	Arbitrum:       {ID: Arbitrum, Family: FamilyEVM, AppName: "Ethereum", CoinType: CoinTypeEthereum, NumericID: 42161, DefaultPath: "m/44'/60'/0'/0/0"},
	Optimism:       {ID: Optimism, Family: FamilyEVM, AppName: "Ethereum", CoinType: CoinTypeEthereum, NumericID: 10, DefaultPath: "m/44'/60'/0'/0/0"},
	Base:           {ID: Base, Family: FamilyEVM, AppName: "Ethereum", CoinType: CoinTypeEthereum, NumericID: 8453, DefaultPath: "m/44'/60'/0'/0/0"},
	Avalanche:      {ID: Avalanche, Family: FamilyEVM, AppName: "Ethereum", CoinType: CoinTypeEthereum, NumericID: 43114, DefaultPath: "m/44'/60'/0'/0/0"},
	Solana:         {ID: Solana, Family: FamilySolana, AppName: "Solana", CoinType: CoinTypeSolana, DefaultPath: "m/44'/501'/0'/0'"},
	XRP:            {ID: XRP, Family: FamilyXRP, AppName: "XRP", CoinType: CoinTypeXRP, DefaultPath: "m/44'/144'/0'/0/0"},
	Cosmos:         {ID: Cosmos, Family: FamilyCosmos, AppName: "Cosmos", CoinType: CoinTypeCosmos, DefaultPath: "m/44'/118'/0'/0/0"},
}

// coin type -> chain used when a request carries only a derivation path
var coinTypes = map[uint32]ID{
	CoinTypeBitcoin:  Bitcoin,
	CoinTypeTestnet:  BitcoinTestnet,
	CoinTypeLitecoin: Litecoin,
	CoinTypeEthereum: Ethereum,
	CoinTypeCosmos:   Cosmos,
	CoinTypeXRP:      XRP,
	CoinTypeSolana:   Solana,
}

func Lookup(id ID) (Info, error) {
	info, ok := registry[id]
	if !ok {
		return Info{}, &signerr.UnsupportedChainError{Chain: string(id)}
	}
	return info, nil
}

func MustLookup(id ID) Info {
	info, err := Lookup(id)
	if err != nil {
		panic(err)
	}
	return info
}

func FromCoinType(coinType uint32) (ID, error) {
	id, ok := coinTypes[coinType]
	if !ok {
		return "", &signerr.UnsupportedChainError{CoinType: coinType}
	}
	return id, nil
}

func FromNumericID(numericID uint64) (ID, bool) {
	for id, info := range registry {
		if info.Family == FamilyEVM && info.NumericID == numericID {
			return id, true
		}
	}
	return "", false
}

func All() []Info {
	all := make([]Info, 0, len(registry))
	for _, info := range registry {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID < all[j].ID
	})
	return all
}

func (id ID) Family() Family {
	return registry[id].Family
}

func (id ID) Valid() bool {
	_, ok := registry[id]
	return ok
}

func (id ID) String() string {
	return string(id)
}

// ByAppName returns the primary chain served by a device app.
func ByAppName(name string) (ID, bool) {
	for _, id := range coinTypes {
		if registry[id].AppName == name {
			return id, true
		}
	}
	return "", false
}
