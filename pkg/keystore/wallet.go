package keystore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/frost"
)

// WalletRecordVersion is the current on-disk wallet record format version
const WalletRecordVersion = 1

// WalletRecord is the decrypted per-wallet state. The keystore owns the
// persisted form exclusively; protocol engines borrow immutable views for
// signing and produce a fresh record at DKG finalization.
type WalletRecord struct {
	Version          int                         `json:"version"`
	WalletID         string                      `json:"wallet_id"`
	Curve            config.CurveType            `json:"curve_type"`
	Total            uint16                      `json:"total"`
	Threshold        uint16                      `json:"threshold"`
	Identifier       uint16                      `json:"identifier"`
	KeyPackage       *frost.KeyPackageWire       `json:"key_package"`
	PublicKeyPackage *frost.PublicKeyPackageWire `json:"public_key_package"`
	Participants     []string                    `json:"participants"`
	Addresses        map[string]string           `json:"addresses"`
	CreatedAt        time.Time                   `json:"created_at"`
}

// WalletMetadata is the password-free listing view of a wallet
type WalletMetadata struct {
	WalletID  string            `json:"wallet_id"`
	Curve     config.CurveType  `json:"curve_type"`
	Total     uint16            `json:"total"`
	Threshold uint16            `json:"threshold"`
	Addresses map[string]string `json:"addresses"`
	CreatedAt time.Time         `json:"created_at"`
}

// Metadata projects the record's listing view
func (r *WalletRecord) Metadata() *WalletMetadata {
	return &WalletMetadata{
		WalletID:  r.WalletID,
		Curve:     r.Curve,
		Total:     r.Total,
		Threshold: r.Threshold,
		Addresses: r.Addresses,
		CreatedAt: r.CreatedAt,
	}
}

// IdentifierFor returns the protocol identifier assigned to a device in
// this wallet's ordered participant list, or 0 if the device is not a
// participant.
func (r *WalletRecord) IdentifierFor(deviceID string) uint16 {
	for i, id := range r.Participants {
		if id == deviceID {
			return uint16(i + 1)
		}
	}
	return 0
}

// marshalWalletRecord serializes a record for encryption
func marshalWalletRecord(r *WalletRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot marshal nil wallet record")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wallet record: %w", err)
	}
	return data, nil
}

// unmarshalWalletRecord parses and validates a decrypted record
func unmarshalWalletRecord(data []byte) (*WalletRecord, error) {
	var r WalletRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, ErrCorrupted
	}
	if r.Version != WalletRecordVersion {
		return nil, ErrVersionMismatch
	}
	if _, err := config.ParseCurveType(r.Curve.String()); err != nil {
		return nil, ErrCorrupted
	}
	if r.KeyPackage == nil || r.PublicKeyPackage == nil {
		return nil, ErrCorrupted
	}
	return &r, nil
}
