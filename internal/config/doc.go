// Package config loads the daemon configuration from a YAML file.
//
// All settings have working defaults, so the daemon runs without a config
// file at all. A partial file overrides only the keys it names.
//
// # Usage Example
//
//	cfg, err := config.Load("/etc/subtronicd/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Addr())
//
// # Security
//
// Broker credentials are read from the config file; keep its permissions
// restricted to the daemon user.
package config
