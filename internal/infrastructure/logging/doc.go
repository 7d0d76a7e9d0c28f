// Package logging builds the slog logger shared by every identityd component.
//
// Output is JSON unless logging.format is "text", and every record carries
// service=identityd and the build version. Components take a child logger:
//
//	logger := logging.New(cfg.Logging, version)
//	svc, _ := auth.New(deps, auth.WithLogger(logger.Component("auth")))
//
// Passwords, raw tokens and signing secrets are never logged; log user ids
// and refresh token hash prefixes instead.
package logging
