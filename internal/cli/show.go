/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-dbops"
)

const maskedValue = "********"

// MaskSecret hides a non-empty secret.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	return maskedValue
}

// Masked returns a copy of the configuration with credentials hidden.
func (c *AppConfig) Masked() *AppConfig {
	db := *c.DB
	db.URL = dbops.RedactDSN(db.URL)
	db.MySQL.Password = MaskSecret(db.MySQL.Password)
	db.Postgres.Password = MaskSecret(db.Postgres.Password)
	db.MSSQL.Password = MaskSecret(db.MSSQL.Password)

	rpc := *c.RPC
	rpc.APIKey = MaskSecret(rpc.APIKey)
	shop := *c.Commerce
	shop.AccessToken = MaskSecret(shop.AccessToken)
	ai := *c.AI
	ai.APIKey = MaskSecret(ai.APIKey)
	vc := *c.Voice
	vc.APIKey = MaskSecret(vc.APIKey)
	metrics := *c.Metrics
	metrics.PushgatewayURL = dbops.RedactDSN(metrics.PushgatewayURL)

	return &AppConfig{DB: &db, RPC: &rpc, Commerce: &shop, AI: &ai, Voice: &vc, Metrics: &metrics}
}

// MaskedYAML renders the configuration as YAML with credentials hidden.
func (c *AppConfig) MaskedYAML() ([]byte, error) {
	return yaml.Marshal(c.Masked())
}
