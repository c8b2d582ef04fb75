package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/updown/internal/domain"
)

var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	settlementTypeHash = ethcrypto.Keccak256(
		[]byte("Settlement(uint256 roundId,uint256 openPrice,uint256 closePrice,uint8 outcome,uint256 totalUp,uint256 totalDown,uint256 fee)"),
	)
)

// outcomeCodes matches the contract's Outcome enum.
var outcomeCodes = map[domain.Outcome]int64{
	domain.OutcomeNone:      0,
	domain.OutcomeUp:        1,
	domain.OutcomeDown:      2,
	domain.OutcomeTie:       3,
	domain.OutcomeCancelled: 4,
	domain.OutcomeRefunded:  5,
}

// ReceiptSigner produces EIP-712 signatures over settled rounds so an
// archived receipt can be checked against the settler address.
type ReceiptSigner struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	domainSep []byte
}

// NewReceiptSigner binds key to the escrow at contract on chainID.
func NewReceiptSigner(key *ecdsa.PrivateKey, chainID int64, contract common.Address) *ReceiptSigner {
	return &ReceiptSigner{
		key:       key,
		address:   ethcrypto.PubkeyToAddress(key.PublicKey),
		domainSep: domainSeparator(chainID, contract),
	}
}

func (s *ReceiptSigner) Address() common.Address { return s.address }

// Sign returns the 0x-prefixed 65 byte signature of round r.
func (s *ReceiptSigner) Sign(r domain.Round) (string, error) {
	digest, err := s.digest(r)
	if err != nil {
		return "", err
	}
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// Recover returns the address that produced sig over round r.
func (s *ReceiptSigner) Recover(r domain.Round, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != 65 {
		return common.Address{}, errors.New("crypto/signer: malformed signature")
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	digest, err := s.digest(r)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func (s *ReceiptSigner) digest(r domain.Round) ([]byte, error) {
	if !r.Status.Terminal() {
		return nil, domain.ErrNotSettled
	}
	var closePx domain.Price
	if r.ClosePrice != nil {
		closePx = *r.ClosePrice
	}
	structHash := ethcrypto.Keccak256(
		settlementTypeHash,
		word(new(big.Int).SetUint64(r.ID.Numeric())),
		word(big.NewInt(int64(r.OpenPrice))),
		word(big.NewInt(int64(closePx))),
		word(big.NewInt(outcomeCodes[r.Outcome])),
		word(big.NewInt(int64(r.TotalUp))),
		word(big.NewInt(int64(r.TotalDown))),
		word(big.NewInt(int64(r.Fee))),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, s.domainSep, structHash), nil
}

func domainSeparator(chainID int64, contract common.Address) []byte {
	return ethcrypto.Keccak256(
		domainTypeHash,
		ethcrypto.Keccak256([]byte("UpDown")),
		ethcrypto.Keccak256([]byte("1")),
		word(big.NewInt(chainID)),
		common.LeftPadBytes(contract.Bytes(), 32),
	)
}

func word(n *big.Int) []byte { return common.LeftPadBytes(n.Bytes(), 32) }
