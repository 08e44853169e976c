package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions and wallet messages with a single secp256k1 key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewSigner binds key to chainID.
func NewSigner(key *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}
}

// Address returns the signing address.
func (s *Signer) Address() common.Address { return s.address }

// ChainID returns the chain the signer is bound to.
func (s *Signer) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// SignTx signs tx for the bound chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign tx: %w", err)
	}
	return signed, nil
}

// SignMessage produces an EIP-191 personal_sign signature with V in {27,28},
// the form wallets return.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverMessage returns the address that personal_signed msg.
func RecoverMessage(msg, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature length %d", len(sig))
	}
	cp := make([]byte, 65)
	copy(cp, sig)
	if cp[64] >= 27 {
		cp[64] -= 27
	}
	if cp[64] > 1 {
		return common.Address{}, errors.New("crypto: invalid recovery id")
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), cp)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RandomSalt returns 32 random bytes for a commitment or question salt.
func RandomSalt() (common.Hash, error) {
	var h common.Hash
	if _, err := rand.Read(h[:]); err != nil {
		return common.Hash{}, fmt.Errorf("crypto: salt: %w", err)
	}
	return h, nil
}
