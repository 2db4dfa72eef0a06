package migrations

import (
	"database/sql"
)

// getAllMigrations returns all available migrations, applied in order.
func getAllMigrations() []Migration {
	return []Migration{
		migration1_CoreTables(),
		migration2_VaultsAndFiles(),
		migration3_RateBucketsAndAudit(),
		migration4_Federation(),
	}
}

// migration1_CoreTables creates users, devices, and sessions.
func migration1_CoreTables() Migration {
	return Migration{
		Version:     1,
		Description: "create users, devices, sessions",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email TEXT UNIQUE NOT NULL,
					password_hash TEXT NOT NULL,
					password_algo TEXT NOT NULL DEFAULT 'argon2id',
					salt TEXT NOT NULL,
					email_verified INTEGER NOT NULL DEFAULT 0,
					subscription_tier TEXT NOT NULL DEFAULT 'free',
					storage_quota_bytes INTEGER NOT NULL,
					storage_used_bytes INTEGER NOT NULL DEFAULT 0,
					mfa_enabled INTEGER NOT NULL DEFAULT 0,
					mfa_secret TEXT,
					identity_provider TEXT NOT NULL DEFAULT 'local',
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS devices (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					device_name TEXT,
					device_type TEXT NOT NULL DEFAULT 'desktop',
					fingerprint TEXT,
					public_key TEXT,
					last_sync_at INTEGER,
					created_at INTEGER NOT NULL,
					revoked_at INTEGER,
					FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices(user_id)`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_devices_fingerprint ON devices(user_id, fingerprint)`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					device_id TEXT NOT NULL,
					refresh_token_hash TEXT NOT NULL,
					expires_at INTEGER NOT NULL,
					revoked_at INTEGER,
					created_at INTEGER NOT NULL,
					FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
					FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_refresh_hash ON sessions(refresh_token_hash)`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_user_device ON sessions(user_id, device_id)`); err != nil {
				return err
			}

			return nil
		},
		Down: func(tx *sql.Tx) error { return nil },
	}
}

// migration2_VaultsAndFiles creates vaults, vault_keys, vault_files.
func migration2_VaultsAndFiles() Migration {
	return Migration{
		Version:     2,
		Description: "create vaults, vault_keys, vault_files",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS vaults (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					name TEXT NOT NULL,
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL,
					deleted_at INTEGER,
					FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_vaults_user_id ON vaults(user_id)`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS vault_keys (
					vault_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					encrypted_key TEXT NOT NULL,
					key_nonce TEXT NOT NULL,
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL,
					PRIMARY KEY (vault_id, user_id),
					FOREIGN KEY (vault_id) REFERENCES vaults(id) ON DELETE CASCADE,
					FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
				)
			`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS vault_files (
					id TEXT PRIMARY KEY,
					vault_id TEXT NOT NULL,
					encrypted_path TEXT NOT NULL,
					content_hash TEXT NOT NULL,
					encrypted_content_hash TEXT NOT NULL DEFAULT '',
					size_bytes INTEGER NOT NULL DEFAULT 0,
					modified_at INTEGER NOT NULL,
					version INTEGER NOT NULL DEFAULT 1,
					storage_key TEXT NOT NULL,
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL,
					deleted_at INTEGER,
					FOREIGN KEY (vault_id) REFERENCES vaults(id) ON DELETE CASCADE
				)
			`); err != nil {
				return err
			}
			// Invariant 1 (§3): at most one live row per (vault_id, encrypted_path).
			// SQLite partial unique indexes enforce this directly.
			if _, err := tx.Exec(`
				CREATE UNIQUE INDEX IF NOT EXISTS idx_vault_files_live_path
				ON vault_files(vault_id, encrypted_path)
				WHERE deleted_at IS NULL
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_vault_files_cursor
				ON vault_files(vault_id, updated_at, id)
			`); err != nil {
				return err
			}

			return nil
		},
		Down: func(tx *sql.Tx) error { return nil },
	}
}

// migration3_RateBucketsAndAudit creates rate_buckets and audit_log.
func migration3_RateBucketsAndAudit() Migration {
	return Migration{
		Version:     3,
		Description: "create rate_buckets, audit_log",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS rate_buckets (
					action_name TEXT NOT NULL,
					identifier TEXT NOT NULL,
					count INTEGER NOT NULL DEFAULT 0,
					window_start INTEGER NOT NULL,
					expires_at INTEGER NOT NULL,
					PRIMARY KEY (action_name, identifier)
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_rate_buckets_expires ON rate_buckets(expires_at)`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS audit_log (
					id TEXT PRIMARY KEY,
					user_id TEXT,
					device_id TEXT,
					action TEXT NOT NULL,
					details_json TEXT,
					ip TEXT,
					user_agent TEXT,
					created_at INTEGER NOT NULL
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_log_user_id ON audit_log(user_id)`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at)`); err != nil {
				return err
			}

			return nil
		},
		Down: func(tx *sql.Tx) error { return nil },
	}
}

// migration4_Federation adds the federated-login linkage table backing
// the LDAP and OAuth identity providers (§4.9 of the extended design).
func migration4_Federation() Migration {
	return Migration{
		Version:     4,
		Description: "create federated_identities",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS federated_identities (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					provider TEXT NOT NULL,
					provider_subject TEXT NOT NULL,
					created_at INTEGER NOT NULL,
					FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
					UNIQUE(provider, provider_subject)
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_federated_identities_user_id ON federated_identities(user_id)`); err != nil {
				return err
			}
			return nil
		},
		Down: func(tx *sql.Tx) error { return nil },
	}
}
