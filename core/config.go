package core

import (
	"time"

	"github.com/PaulFidika/subledger/apikey"
	"github.com/PaulFidika/subledger/config"
	"github.com/PaulFidika/subledger/entitlements"
	jwtkit "github.com/PaulFidika/subledger/jwt"
)

// Config is what a Service needs beyond its storage backend.
type Config struct {
	Issuer     string
	Audience   string
	SessionTTL time.Duration
	Skew       time.Duration
	Keys       jwtkit.KeySource
	Accept     AcceptConfig
	// OperatorRoles are added to entitlements.RoleOperator.
	OperatorRoles []string
	APIKeys       []apikey.Key
	Wallet        WalletConfig
}

// WalletConfig shapes the sign-in challenges handed to wallets.
type WalletConfig struct {
	Domain       string
	URI          string
	Statement    string
	ChainID      string
	ChallengeTTL time.Duration
}

// FromConfig derives the service configuration from the daemon's file/env configuration.
func FromConfig(c config.Config, keys jwtkit.KeySource) Config {
	out := Config{
		Issuer:        c.Auth.Issuer,
		Audience:      c.Auth.Audience,
		SessionTTL:    c.Auth.SessionTTL,
		Skew:          c.Auth.Skew,
		Keys:          keys,
		Accept:        AcceptConfig{Skew: c.Auth.Skew},
		OperatorRoles: c.Auth.OperatorRoles,
		Wallet: WalletConfig{
			Domain:       c.SIWS.Domain,
			URI:          c.SIWS.URI,
			Statement:    c.SIWS.Statement,
			ChainID:      c.SIWS.ChainID,
			ChallengeTTL: c.SIWS.ChallengeTTL,
		},
	}
	for _, a := range c.Auth.Accept {
		out.Accept.Issuers = append(out.Accept.Issuers, IssuerAccept{
			Issuer:       a.Issuer,
			Audience:     a.Audience,
			JWKSURL:      a.JWKSURL,
			PinnedRSAPEM: a.PinnedRSAPEM,
			CacheTTL:     a.CacheTTL,
		})
	}
	for _, k := range c.Auth.APIKeys {
		out.APIKeys = append(out.APIKeys, apikey.Key{
			Name:      k.Name,
			Hash:      k.Hash,
			Principal: entitlements.Principal(k.Principal),
			Roles:     k.Roles,
		})
	}
	return out
}
