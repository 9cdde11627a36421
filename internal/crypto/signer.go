package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/jetlagged/skyshield/internal/domain"
)

// TxSigner signs contract transactions with a single secp256k1 key. One
// signer serves every configured chain; the chain ID is supplied per call.
type TxSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewTxSigner creates a TxSigner from a hex-encoded private key.
func NewTxSigner(privateKeyHex string) (*TxSigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &TxSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the account that pays for and sends transactions.
func (s *TxSigner) Address() common.Address {
	return s.address
}

// SignTx signs tx for the given chain using the latest signer rules (EIP-155
// and typed transactions).
func (s *TxSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	return signed, nil
}
