// Package config loads and validates the shims service configuration.
//
// Values come from, in increasing precedence: built-in defaults, the YAML
// file named by GRAYLOGIC_SHIMS_CONFIG (default configs/shims.yaml), and
// GRAYLOGIC_SHIMS_* environment variables. LoadDotEnv populates the
// environment from a .env file first when one is present.
//
// Secrets (MQTT password, InfluxDB token, JWT secret) are best supplied
// through the environment rather than the YAML file.
//
// Usage:
//
//	if err := config.LoadDotEnv(); err != nil {
//	    return err
//	}
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    return err
//	}
package config
