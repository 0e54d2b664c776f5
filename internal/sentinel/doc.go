// Package sentinel provides the immutable error type used for every sentinel
// error in fnhost.
//
// Errors declared with errors.New are package variables that any importer can
// reassign. Error is a string type, so sentinels can be declared as consts and
// still be matched with errors.Is through wrapped chains.
package sentinel
