package database

import "time"

// ConnectionRecord is a saved database connection. Password,
// SSHPrivateKey and SSHPassphrase hold fernet ciphertext only; this
// layer never writes plaintext into the store.
type ConnectionRecord struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	Name       string `gorm:"uniqueIndex;not null;size:128" json:"name"`
	Provider   string `gorm:"not null;size:32" json:"provider"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Database   string `json:"database"`
	Username   string `json:"username"`
	Password   string `json:"-"` // fernet-encrypted
	SSLEnabled bool   `json:"sslEnabled"`

	SSHEnabled    bool   `json:"sshEnabled"`
	SSHHost       string `json:"sshHost"`
	SSHPort       int    `json:"sshPort"`
	SSHUsername   string `json:"sshUsername"`
	SSHPrivateKey string `json:"-"` // fernet-encrypted
	SSHPassphrase string `json:"-"` // fernet-encrypted

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
