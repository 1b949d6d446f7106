// Package config handles loading and validating the device agent configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables and command line flags
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The private key path points at secret material; keep it 0600
//   - The InfluxDB token should be set via IOTC_INFLUXDB_TOKEN, not the file
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Identity.DevicePath)
package config
