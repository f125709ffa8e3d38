package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota // native collateral held by the user
	SubTypeVault                        // native collateral escrowed for the user's position
	SubTypeStable                       // stable token balance

	// System sub-types
	SubTypeSystemStableSupply // negative of issued stable supply

	// External sub-types
	SubTypeExternalInflow // native collateral bridged in from outside the ledger
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetNative AssetID = 1
	AssetStable AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"SOL":  AssetNative,
		"USDS": AssetStable,
	}
	idToAsset = map[AssetID]string{
		AssetNative: "SOL",
		AssetStable: "USDS",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (24 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [20]byte // owner address for users, zero for system/external
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(owner common.Address, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: owner,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

func WalletKey(owner common.Address) AccountKey {
	return NewUserAccountKey(owner, SubTypeWallet, AssetNative)
}

func VaultKey(owner common.Address) AccountKey {
	return NewUserAccountKey(owner, SubTypeVault, AssetNative)
}

func StableKey(owner common.Address) AccountKey {
	return NewUserAccountKey(owner, SubTypeStable, AssetStable)
}

func StableSupplyKey() AccountKey {
	return NewSystemAccountKey(SubTypeSystemStableSupply, AssetStable)
}

func ExternalInflowKey() AccountKey {
	return NewExternalAccountKey(SubTypeExternalInflow, AssetNative)
}

// Owner returns the owning address of a user account.
func (k AccountKey) Owner() common.Address {
	return common.Address(k.EntityID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", strings.ToLower(k.Owner().Hex()), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	var (
		key      AccountKey
		subName  string
		assetStr string
	)

	switch {
	case len(parts) == 4 && parts[0] == "user":
		if !common.IsHexAddress(parts[1]) {
			return AccountKey{}, fmt.Errorf("invalid owner in account path %q", path)
		}
		key.Scope = AccountScopeUser
		key.EntityID = common.HexToAddress(parts[1])
		subName, assetStr = parts[2], parts[3]
	case len(parts) == 3 && parts[0] == "system":
		key.Scope = AccountScopeSystem
		subName, assetStr = parts[1], parts[2]
	case len(parts) == 3 && parts[0] == "external":
		key.Scope = AccountScopeExternal
		subName, assetStr = parts[1], parts[2]
	default:
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	subType, ok := subTypeByName[subName]
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown sub-type %q in account path %q", subName, path)
	}
	assetID, ok := GetAssetID(assetStr)
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown asset %q in account path %q", assetStr, path)
	}
	key.SubType = subType
	key.AssetID = assetID
	return key, nil
}

var subTypeByName = map[string]AccountSubType{
	"wallet":        SubTypeWallet,
	"vault":         SubTypeVault,
	"stable":        SubTypeStable,
	"stable_supply": SubTypeSystemStableSupply,
	"inflow":        SubTypeExternalInflow,
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeVault:
		return "vault"
	case SubTypeStable:
		return "stable"
	case SubTypeSystemStableSupply:
		return "stable_supply"
	case SubTypeExternalInflow:
		return "inflow"
	default:
		return "unknown"
	}
}
