package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the service wallet key for one chain.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewSigner parses a hex private key for use on chainID.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	raw, err := decodeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}, nil
}

// LoadSigner resolves src and builds a Signer from it.
func LoadSigner(src KeySource, chainID int64) (*Signer, error) {
	keyHex, err := LoadKey(src)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyHex, chainID)
}

// Address returns the wallet address.
func (s *Signer) Address() common.Address { return s.address }

// ChainID returns the chain the signer targets.
func (s *Signer) ChainID() int64 { return s.chainID.Int64() }

// Transactor returns fresh transaction options bound to the wallet. Callers
// may mutate the result.
func (s *Signer) Transactor() (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("crypto: transactor: %w", err)
	}
	return opts, nil
}

// SignMessage produces an EIP-191 personal signature over msg.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(personalHash(msg), s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced an EIP-191 personal
// signature over msg.
func RecoverSigner(msg, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature is %d bytes, want 65", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(personalHash(msg), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func personalHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}
