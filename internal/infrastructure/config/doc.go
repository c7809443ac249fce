// Package config handles loading and validating the door controller
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (DOORLOCK_*)
//   - Validation of required fields
//   - Default value handling
//   - Parsing the Wi-Fi credentials file
//
// Security Considerations:
//   - MQTT, InfluxDB and API JWT secrets should be set via environment variables
//   - The config and wifi files should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.ID)
package config
