// Package vault implements the Vault Service (§4.7): list/create/get/
// delete of a user's vaults, and get/put of the per-(vault, user)
// encrypted key envelope. Vaults are soft-deleted; deletion cascades to
// every live file row and its blob.
package vault

import "time"

// Vault is a row of the vaults table.
type Vault struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	DeletedAt *int64 `json:"deleted_at,omitempty"`
}

// KeyEnvelope is a row of the vault_keys table: the vault's content
// key, wrapped for one specific user. The server never sees the
// unwrapped key — it is opaque ciphertext from this package's view.
type KeyEnvelope struct {
	VaultID      string `json:"vault_id"`
	UserID       string `json:"user_id"`
	EncryptedKey string `json:"encrypted_key"`
	KeyNonce     string `json:"key_nonce"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

func unixNow() int64 { return time.Now().Unix() }
