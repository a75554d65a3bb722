package types

import "fmt"

// CredentialError means role assumption for one account exhausted its retries.
// Fatal to that account's collection, non-fatal to the run.
type CredentialError struct {
	AccountID string
	RoleName  string
	Err       error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("assume role %q in account %s: %v", e.RoleName, e.AccountID, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// CollectorError means one (region, kind) lookup failed. Logged and converted
// into an empty partial result, never fatal.
type CollectorError struct {
	AccountID string
	Region    string
	Kind      Kind
	Err       error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("collect %s in %s/%s: %v", e.Kind, e.AccountID, e.Region, e.Err)
}

func (e *CollectorError) Unwrap() error { return e.Err }

// PersistenceError means a batch write failed. Propagates to the run level;
// data loss is not swallowed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigurationError means the account configuration was missing or malformed.
// Fatal before any collection begins.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
