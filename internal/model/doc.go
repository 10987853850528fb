// Package model holds the value types passed between pipeline stages: targets, key
// records, transfer state and decryption jobs, plus the identifier and naming rules
// every stage must agree on.
package model
