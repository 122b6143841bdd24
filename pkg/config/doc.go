// Package config loads the YAML configuration of a canopy server: logging,
// the shards registered at startup and the listener addresses.
package config
