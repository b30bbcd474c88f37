package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"covernet/crypto"
)

var (
	poolPrefix              = []byte("protection-pool:")
	positionPrefix          = []byte("protection-position:")
	positionCounterKey      = ethcrypto.Keccak256([]byte("protection-position-counter"))
	lendingPoolPrefix       = []byte("protection-lending-pool:")
	lendingPoolListKey      = ethcrypto.Keccak256([]byte("protection-lending-pool-list"))
	buyerIndexPrefix        = []byte("protection-buyer-index:")
	withdrawalRequestPrefix = []byte("protection-withdrawal:")
	withdrawalTotalPrefix   = []byte("protection-withdrawal-total:")
	accountPrefix           = []byte("account:")
	poolStatePrefix         = []byte("default-state:")
	poolStateListKey        = ethcrypto.Keccak256([]byte("default-state-list"))
	claimCursorPrefix       = []byte("default-state-claim-cursor:")
)

func addressBytes(addr crypto.Address) []byte {
	prefix := []byte(addr.Prefix())
	buf := make([]byte, 0, len(prefix)+1+len(addr.Bytes()))
	buf = append(buf, prefix...)
	buf = append(buf, ':')
	return append(buf, addr.Bytes()...)
}

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
		buf = append(buf, ':')
	}
	return ethcrypto.Keccak256(buf)
}

func uint64Bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func poolKey(pool crypto.Address) []byte {
	return prefixedKey(poolPrefix, addressBytes(pool))
}

func positionKey(id uint64) []byte {
	return prefixedKey(positionPrefix, uint64Bytes(id))
}

func lendingPoolKey(pool crypto.Address) []byte {
	return prefixedKey(lendingPoolPrefix, addressBytes(pool))
}

func buyerIndexKey(pool, buyer crypto.Address, positionTokenID uint64) []byte {
	return prefixedKey(buyerIndexPrefix, addressBytes(pool), addressBytes(buyer), uint64Bytes(positionTokenID))
}

func withdrawalRequestKey(cycle uint64, seller crypto.Address) []byte {
	return prefixedKey(withdrawalRequestPrefix, uint64Bytes(cycle), addressBytes(seller))
}

func withdrawalTotalKey(cycle uint64) []byte {
	return prefixedKey(withdrawalTotalPrefix, uint64Bytes(cycle))
}

func accountKey(addr crypto.Address) []byte {
	return prefixedKey(accountPrefix, addressBytes(addr))
}

func poolStateKey(pool crypto.Address) []byte {
	return prefixedKey(poolStatePrefix, addressBytes(pool))
}

func claimCursorKey(pool, seller crypto.Address) []byte {
	return prefixedKey(claimCursorPrefix, addressBytes(pool), addressBytes(seller))
}
