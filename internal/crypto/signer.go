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

	"github.com/alanyoungcy/rankpool/internal/domain"
)

const (
	domainName    = "RankPool"
	domainVersion = "1"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	reportTypeHash = ethcrypto.Keccak256(
		[]byte("SettlementReport(address pool,bytes32 rankingHash,bytes32 payoutsHash,uint256 grossPool,uint256 totalPrize,uint256 feePool,uint256 generatedAt)"),
	)
)

var ErrBadSignature = errors.New("crypto: malformed signature")

// Signer signs settlement reports with the operator key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// SignReport sets report.Signer and returns the 65-byte signature as 0x hex.
// The Signer and Signature fields are not part of the signed payload.
func (s *Signer) SignReport(report *domain.SettlementReport) (string, error) {
	report.Signer = s.address
	sig, err := ethcrypto.Sign(reportDigest(s.domainSep, *report), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets expect {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverReportSigner returns the address that produced sig over report.
func RecoverReportSigner(chainID int64, report domain.SettlementReport, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(reportDigest(domainSeparator(chainID), report), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyReport checks the report's embedded signature against its Signer.
func VerifyReport(chainID int64, report domain.SettlementReport) error {
	got, err := RecoverReportSigner(chainID, report, report.Signature)
	if err != nil {
		return err
	}
	if got != report.Signer {
		return fmt.Errorf("crypto/signer: signed by %s, report claims %s: %w", got.Hex(), report.Signer.Hex(), ErrBadSignature)
	}
	return nil
}

// domainSeparator is keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(domainName)),
		ethcrypto.Keccak256([]byte(domainVersion)),
		word(big.NewInt(chainID)),
	)
}

// reportDigest is keccak256("\x19\x01" || domainSeparator || structHash).
func reportDigest(domainSep []byte, r domain.SettlementReport) []byte {
	structHash := ethcrypto.Keccak256(
		reportTypeHash,
		common.LeftPadBytes(r.Pool.Bytes(), 32),
		rankingHash(r.Ranking),
		payoutsHash(r.Payouts),
		word(r.GrossPool),
		word(r.TotalPrize),
		word(r.FeePool),
		word(big.NewInt(r.GeneratedAt.Unix())),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

func rankingHash(entries []domain.RankEntry) []byte {
	buf := make([]byte, 0, 64*len(entries))
	for _, e := range entries {
		buf = append(buf, word(new(big.Int).SetUint64(e.TokenID))...)
		buf = append(buf, word(big.NewInt(int64(e.Score)))...)
	}
	return ethcrypto.Keccak256(buf)
}

func payoutsHash(payouts []domain.Payout) []byte {
	buf := make([]byte, 0, 128*len(payouts))
	for _, p := range payouts {
		token := new(big.Int)
		if p.TokenID != nil {
			token.SetUint64(*p.TokenID)
		}
		buf = append(buf, ethcrypto.Keccak256([]byte(p.Kind))...)
		buf = append(buf, common.LeftPadBytes(p.Account.Bytes(), 32)...)
		buf = append(buf, word(token)...)
		buf = append(buf, word(p.Amount)...)
	}
	return ethcrypto.Keccak256(buf)
}

// word is the 32-byte big-endian encoding of n; nil encodes as zero.
func word(n *big.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(n.Bytes(), 32)
}
