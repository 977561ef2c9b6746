package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BackendMode identifies which reverse-proxy family serves a host.
type BackendMode string

const (
	ModeCloudflareTunnel BackendMode = "cloudflare_tunnel"
	ModeCaddy            BackendMode = "caddy"
	ModeNginx            BackendMode = "nginx"
)

// ValidMode reports whether the string names a known backend mode.
func ValidMode(m string) bool {
	switch BackendMode(m) {
	case ModeCloudflareTunnel, ModeCaddy, ModeNginx:
		return true
	}
	return false
}

// ProxyHost is one domain-to-local-service forwarding rule.
type ProxyHost struct {
	ID               uint        `json:"id" gorm:"primaryKey"`
	UUID             string      `json:"uuid" gorm:"uniqueIndex"`
	Domain           string      `json:"domain" gorm:"uniqueIndex;not null"`
	UpstreamHost     string      `json:"upstream_host" gorm:"not null"`
	UpstreamPort     int         `json:"upstream_port" gorm:"not null"`
	BackendMode      BackendMode `json:"backend_mode" gorm:"index;not null"`
	AuthEnabled      bool        `json:"auth_enabled" gorm:"default:false"`
	WebsocketEnabled bool        `json:"websocket_enabled" gorm:"default:false"`
	Enabled          bool        `json:"enabled" gorm:"default:true"`
	Description      string      `json:"description"`

	// Rewrites apply in Position order; the first matching rule wins.
	Rewrites []RewriteRule `json:"rewrites" gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for new hosts.
func (p *ProxyHost) BeforeCreate(tx *gorm.DB) error {
	if p.UUID == "" {
		p.UUID = uuid.New().String()
	}
	return nil
}

// UpstreamAddr returns the host:port dial address of the local service.
func (p *ProxyHost) UpstreamAddr() string {
	return fmt.Sprintf("%s:%d", p.UpstreamHost, p.UpstreamPort)
}

// RewriteRule is one ordered path rewrite belonging to a proxy host.
type RewriteRule struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	ProxyHostID uint   `json:"proxy_host_id" gorm:"index"`
	FromPath    string `json:"from_path" gorm:"not null"`
	ToPath      string `json:"to_path" gorm:"not null"`
	Position    int    `json:"position" gorm:"not null"`
}
