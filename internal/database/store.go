package database

import (
	"errors"
	"fmt"

	"github.com/dbbridge/dbbridge/internal/crypto"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("connection record not found")

// CreateConnection stores a new record, encrypting the secret fields.
// Incoming secrets are plaintext; ciphertext never round-trips through
// the client on create.
func CreateConnection(rec *ConnectionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := encryptSecrets(rec); err != nil {
		return err
	}
	if err := DB.Create(rec).Error; err != nil {
		return fmt.Errorf("create connection record: %w", err)
	}
	return nil
}

// UpdateConnection replaces a record's fields. Empty secret fields keep
// the previously stored ciphertext so clients can update a connection
// without resubmitting secrets.
func UpdateConnection(rec *ConnectionRecord) error {
	existing, err := GetConnection(rec.ID)
	if err != nil {
		return err
	}
	if rec.Password == "" {
		rec.Password = existing.Password
	} else if rec.Password, err = crypto.Encrypt(rec.Password); err != nil {
		return err
	}
	if rec.SSHPrivateKey == "" {
		rec.SSHPrivateKey = existing.SSHPrivateKey
	} else if rec.SSHPrivateKey, err = crypto.Encrypt(rec.SSHPrivateKey); err != nil {
		return err
	}
	if rec.SSHPassphrase == "" {
		rec.SSHPassphrase = existing.SSHPassphrase
	} else if rec.SSHPassphrase, err = crypto.Encrypt(rec.SSHPassphrase); err != nil {
		return err
	}
	// Save writes every field; keep the original creation timestamp.
	rec.CreatedAt = existing.CreatedAt
	if err := DB.Save(rec).Error; err != nil {
		return fmt.Errorf("update connection record: %w", err)
	}
	return nil
}

// GetConnection returns a record with its secret fields as stored
// (ciphertext). Decryption happens in the bridge, on use.
func GetConnection(id string) (*ConnectionRecord, error) {
	var rec ConnectionRecord
	if err := DB.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection record: %w", err)
	}
	return &rec, nil
}

// ListConnections returns all records ordered by name.
func ListConnections() ([]ConnectionRecord, error) {
	var recs []ConnectionRecord
	if err := DB.Order("name").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list connection records: %w", err)
	}
	return recs, nil
}

// DeleteConnection removes a record by id.
func DeleteConnection(id string) error {
	res := DB.Delete(&ConnectionRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete connection record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func encryptSecrets(rec *ConnectionRecord) error {
	var err error
	if rec.Password != "" {
		if rec.Password, err = crypto.Encrypt(rec.Password); err != nil {
			return err
		}
	}
	if rec.SSHPrivateKey != "" {
		if rec.SSHPrivateKey, err = crypto.Encrypt(rec.SSHPrivateKey); err != nil {
			return err
		}
	}
	if rec.SSHPassphrase != "" {
		if rec.SSHPassphrase, err = crypto.Encrypt(rec.SSHPassphrase); err != nil {
			return err
		}
	}
	return nil
}
