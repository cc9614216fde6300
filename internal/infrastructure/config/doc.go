// Package config handles loading and validating simulator configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables (ESTATION_*)
//   - Validation of required fields and ranges
//   - Default value handling
//
// Command-line flags are applied by the binaries on top of the loaded
// configuration; call Validate again after applying them.
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - Credentials are passed through to the transport untouched
//
// Usage:
//
//	cfg, err := config.Load("configs/estation.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Fleet.Count)
package config
