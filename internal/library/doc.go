// Package library owns the catalog of lendable resources and the loan /
// reservation ledger that drives their lifecycle.
//
// # State machine
//
// A resource's State is never set directly. It is derived from the record's
// lending data every time the ledger mutates it:
//
//   - LOANED    an active Loan exists
//   - RESERVED  no Loan, at least one pending Reservation
//   - AVAILABLE neither
//
// # Concurrency
//
// Every resource record carries its own mutex. Ledger operations lock only
// the record they touch, so operations on unrelated resources never wait on
// each other, while lend/return/reserve/renew on the same id are linearizable.
package library
