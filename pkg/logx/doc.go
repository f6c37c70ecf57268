// Package logx is lendwatch's structured logging on top of zerolog.
//
// Console output is human readable with a short file:line caller; file
// output is JSON lines. Level and outputs can change at runtime through
// Service.Apply, which the app calls on config reload.
package logx
