// Package fairness implements the commit/reveal scheme that lets players
// audit a round: the server seed hash is published at open, the seed itself
// after settlement, and anyone can recompute the digit.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	serverSeedBytes = 32
	clientSeedBytes = 16
	digitRange      = 10
)

var (
	ErrSeedHashMismatch = errors.New("server seed does not match published hash")
	ErrDigitMismatch    = errors.New("digit does not match reveal")
	ErrMalformedSeed    = errors.New("malformed server seed")
)

// SeedPair is a freshly generated commitment. ServerSeed is hex and must
// stay secret until the round settles.
type SeedPair struct {
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     string
}

type Oracle struct {
	random io.Reader
}

func NewOracle() *Oracle {
	return &Oracle{random: rand.Reader}
}

// NewOracleWithReader uses r as the entropy source.
func NewOracleWithReader(r io.Reader) *Oracle {
	return &Oracle{random: r}
}

func (o *Oracle) NewSeedPair() (SeedPair, error) {
	server := make([]byte, serverSeedBytes)
	if _, err := io.ReadFull(o.random, server); err != nil {
		return SeedPair{}, fmt.Errorf("read server seed: %w", err)
	}
	client := make([]byte, clientSeedBytes)
	if _, err := io.ReadFull(o.random, client); err != nil {
		return SeedPair{}, fmt.Errorf("read client seed: %w", err)
	}

	return SeedPair{
		ServerSeed:     hex.EncodeToString(server),
		ServerSeedHash: hashBytes(server),
		ClientSeed:     hex.EncodeToString(client),
	}, nil
}

// HashSeed returns the hex SHA-256 of the decoded server seed.
func HashSeed(serverSeed string) (string, error) {
	raw, err := hex.DecodeString(serverSeed)
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("%w: %q", ErrMalformedSeed, serverSeed)
	}
	return hashBytes(raw), nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RevealDigit derives a digit 0-9 from HMAC-SHA256(serverSeed,
// "clientSeed:nonce:0"). The first four bytes are read as a big-endian
// fraction of 2^32 and scaled to ten buckets.
func RevealDigit(serverSeed, clientSeed string, nonce int64) (int, error) {
	key, err := hex.DecodeString(serverSeed)
	if err != nil || len(key) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedSeed, serverSeed)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(clientSeed + ":" + strconv.FormatInt(nonce, 10) + ":0"))
	sum := mac.Sum(nil)

	u := uint64(binary.BigEndian.Uint32(sum[:4]))
	return int((u * digitRange) >> 32), nil
}

// Verify checks the published hash against the revealed seed and the
// recorded digit against the reveal.
func Verify(serverSeedHash, serverSeed, clientSeed string, nonce int64, claimedDigit int) error {
	if err := VerifyCommitment(serverSeedHash, serverSeed); err != nil {
		return err
	}
	digit, err := RevealDigit(serverSeed, clientSeed, nonce)
	if err != nil {
		return err
	}
	if digit != claimedDigit {
		return fmt.Errorf("%w: claimed %d, reveal gives %d", ErrDigitMismatch, claimedDigit, digit)
	}
	return nil
}

// VerifyCommitment checks only the hash commitment.
func VerifyCommitment(serverSeedHash, serverSeed string) error {
	hash, err := HashSeed(serverSeed)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(hash), []byte(serverSeedHash)) {
		return ErrSeedHashMismatch
	}
	return nil
}
