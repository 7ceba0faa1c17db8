// Package config handles loading and validating Home Gate Core configuration.
//
// This package manages:
//   - Loading serverconf.json (the single server-level configuration document)
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The type catalog documents (device_types.json, property_types.json,
// value_types.json, services.json) are not handled here — see
// internal/catalog, which owns their load/replace/atomic-rewrite lifecycle
// independently since they are hot-reloadable at runtime while serverconf.json
// is read once at process startup.
//
// Usage:
//
//	cfg, err := config.Load("serverconf.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Name)
package config
