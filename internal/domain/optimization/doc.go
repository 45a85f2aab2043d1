// Package optimization defines the in-memory records of optimization
// experiments: studies, trials, their states and directions, and the
// parameter distributions used to translate stored values.
//
// Types here carry no persistence details; the codec package owns the
// document representation.
package optimization
