// Package config handles loading and validating homeapp node configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a .env file for local development
//   - Overriding with HOMEAPP_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Name)
package config
