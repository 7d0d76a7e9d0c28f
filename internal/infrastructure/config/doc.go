// Package config loads identityd's configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// IDENTITY_* environment variables. Validate reports every problem in one
// error. Signing secrets have no default and are expected to arrive through
// the environment (IDENTITY_ACCESS_SECRET, IDENTITY_REFRESH_SECRET), never
// through a committed file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	ttl := cfg.Security.Tokens.AccessTTL()
package config
