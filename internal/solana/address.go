package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Public keys are 32 bytes, 32-44 characters in base58.
const (
	PublicKeyLength  = 32
	minAddressLength = 32
	maxAddressLength = 44
)

// Well-known program IDs.
const (
	TokenProgramID    = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	MetaplexProgramID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
)

// AddressError describes why an address failed validation.
type AddressError struct {
	Address string
	Reason  string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid solana address %q: %s", e.Address, e.Reason)
}

// ValidateAddress checks that addr is a base58-encoded 32-byte public key.
func ValidateAddress(addr string) error {
	if len(addr) < minAddressLength || len(addr) > maxAddressLength {
		return &AddressError{Address: addr, Reason: fmt.Sprintf("length %d outside [%d,%d]", len(addr), minAddressLength, maxAddressLength)}
	}
	decoded, err := base58.Decode(addr)
	if err != nil {
		return &AddressError{Address: addr, Reason: "not base58"}
	}
	if len(decoded) != PublicKeyLength {
		return &AddressError{Address: addr, Reason: fmt.Sprintf("decodes to %d bytes", len(decoded))}
	}
	return nil
}

// IsValidAddress reports whether addr passes ValidateAddress.
func IsValidAddress(addr string) bool {
	return ValidateAddress(addr) == nil
}

// IsOnCurve reports whether a 32-byte key is a valid ed25519 point.
// Program derived addresses are always off-curve.
func IsOnCurve(key []byte) bool {
	if len(key) != PublicKeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(key)
	return err == nil
}

// FindProgramAddress derives a program derived address and its bump seed.
// Hash: sha256(seeds || bump || programID || "ProgramDerivedAddress"), bump from 255 down
// until the result is off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := base58.Decode(programID)
	if err != nil || len(program) != PublicKeyLength {
		return "", 0, &AddressError{Address: programID, Reason: "bad program id"}
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)

		if !IsOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}
	return "", 0, fmt.Errorf("no viable bump for program %s", programID)
}

// MetadataAddress derives the Metaplex metadata account for a mint.
// Seeds: ["metadata", metaplex_program_id, mint].
func MetadataAddress(mint string) (string, error) {
	if err := ValidateAddress(mint); err != nil {
		return "", err
	}
	mintBytes, _ := base58.Decode(mint)
	programBytes, _ := base58.Decode(MetaplexProgramID)

	pda, _, err := FindProgramAddress([][]byte{[]byte("metadata"), programBytes, mintBytes}, MetaplexProgramID)
	return pda, err
}
