package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/onsembl/onsembl/shared/types"
)

// base contains the common fields shared by mutable models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// Agent directory rows pass their agent-supplied id in explicitly, so this
// only fires for server-originated records (users, tokens, providers).
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// immutableBase is used by append-only records that are never updated after
// insertion — it carries no UpdatedAt column, so there is nothing for GORM
// to mutate.
type immutableBase struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (b *immutableBase) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Operators (local accounts authenticating the dashboard's dashboard:connect
// token, and the external-OIDC collaborators they may be provisioned from).
// These are carried beyond the two tables the protocol spec calls
// must-survive-restarts, because the access tokens dashboard:connect
// presents have to resolve to *something* durable across a server restart —
// see DESIGN.md's persisted-state decision.
// -----------------------------------------------------------------------------

// User represents a local or OIDC-authenticated operator. PasswordHash is
// only set for local accounts — OIDC users authenticate via the provider and
// have an empty PasswordHash.
type User struct {
	base
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"type:text"` // Argon2id encoded hash, empty for OIDC users
	DisplayName  string `gorm:"not null"`
	Role         string `gorm:"not null;default:'operator'"`
	IsActive     bool   `gorm:"not null;default:true"`
	OIDCProvider string `gorm:"default:''"`
	OIDCSub      string `gorm:"default:''"`
	LastLoginAt  *time.Time
}

// RefreshToken stores a hashed refresh token associated with an operator
// session. The raw token is never stored — only its SHA-256 hash. Tokens are
// rotated (deleted and reissued) on every use.
type RefreshToken struct {
	base
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	TokenHash string    `gorm:"not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null;index"`
	RevokedAt *time.Time
	UserAgent string
	IPAddress string
}

// OIDCProvider stores the configuration for the external identity provider
// §1 names as an out-of-scope collaborator. ClientSecret is encrypted at
// rest. Only one provider is supported at a time.
type OIDCProvider struct {
	base
	Name         string          `gorm:"not null"`
	Issuer       string          `gorm:"not null"`
	ClientID     string          `gorm:"not null"`
	ClientSecret EncryptedString `gorm:"type:text;not null"`
	Scopes       string          `gorm:"not null;default:'openid email profile'"`
	Enabled      bool            `gorm:"not null;default:false"`
}

// -----------------------------------------------------------------------------
// Agent directory — one of the two tables §6 requires to survive restarts.
// -----------------------------------------------------------------------------

// Agent is the durable record of a wrapper that has ever connected: stable
// id, human name, declared kind and capabilities, and enough host metadata
// to diagnose a stale or flapping agent. ID is the agent-supplied UUID from
// agent:connect, not server-generated — BeforeCreate only fills it when
// absent.
type Agent struct {
	base
	Name         string `gorm:"not null"`
	Kind         string `gorm:"not null"` // claude, gemini, codex, custom
	Capabilities string `gorm:"type:text;default:'{}'"` // JSON-encoded types.AgentCapabilities
	Status       string `gorm:"not null;default:'offline'"`
	Hostname     string `gorm:"not null;default:''"`
	Version      string `gorm:"not null;default:''"`
	PID          int    `gorm:"default:0"`
	LastSeenAt   *time.Time
	RestartCount int `gorm:"not null;default:0"`
}

// -----------------------------------------------------------------------------
// Audit log — the other table §6 requires to survive restarts. Rows are
// append-only and immutable (invariant 5): no UpdatedAt, no update path.
// -----------------------------------------------------------------------------

// AuditEntry is one append-only, redacted record of an auditable event. Kind
// is drawn from the closed types.AuditEventKind enumeration. UserID,
// AgentID and CommandID are optional depending on the kind. Details holds
// the event's redacted payload serialized as JSON — sensitive keys are
// elided by the audit package before the row is ever constructed.
type AuditEntry struct {
	immutableBase
	Kind      string     `gorm:"not null;index"`
	UserID    *uuid.UUID `gorm:"type:text;index"`
	AgentID   *uuid.UUID `gorm:"type:text;index"`
	CommandID *uuid.UUID `gorm:"type:text;index"`
	Details   string     `gorm:"type:text;not null;default:'{}'"`
	SourceIP  string     `gorm:"not null;default:''"`
	UserAgent string     `gorm:"not null;default:''"`
}

// ValidAuditKind reports whether kind matches a known types.AuditEventKind
// value. The audit funnel's write path does not call it.
func ValidAuditKind(kind string) bool {
	switch types.AuditEventKind(kind) {
	case types.AuditUserLogin, types.AuditUserLogout, types.AuditAgentConnect,
		types.AuditAgentDisconnect, types.AuditCommandSent, types.AuditCommandCompleted,
		types.AuditPresetCreated, types.AuditPresetUpdated, types.AuditEmergencyStop,
		types.AuditAgentError, types.AuditConfigChange:
		return true
	default:
		return false
	}
}
