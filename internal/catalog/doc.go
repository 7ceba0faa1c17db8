// Package catalog implements the Type Catalog (spec §4.1): the immutable-
// at-runtime set of scalar types, enum types, property types, device
// types, and services that every device in the registry is validated
// against.
//
// The catalog is loaded from four JSON documents at startup
// (value_types.json, property_types.json, device_types.json,
// services.json) and held as an immutable snapshot behind an
// atomic.Pointer. Updates install a new snapshot under a write lock and
// atomically rewrite the corresponding file in full; readers dereference
// the current snapshot without locking, matching the read-mostly
// concurrency model of spec §5.
package catalog
