// Package types contains the shared data types and interfaces used across
// the ensemble library.
//
// Placing them in a leaf package lets internal packages depend on them
// without importing the root ensemble package, avoiding import cycles.
// The root package re-exports the commonly used names via type aliases.
package types
