// Package logging provides structured logging for the door controller.
//
// It wraps log/slog with JSON output for deployed units, text output for
// the bench, and default fields (service, version, device) on every
// entry. Components receive a child logger via Component and accept it
// through their own narrow Logger interfaces.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log PINs. Digests and credential kinds are fine.
package logging
