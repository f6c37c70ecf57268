package library

import "time"

// DefaultLoanPeriod is how long a loan runs before it is due.
const DefaultLoanPeriod = 14 * 24 * time.Hour

type Loan struct {
	ResourceID string
	BorrowerID string
	StartedAt  time.Time
	DueAt      time.Time
	Renewals   int
}

type Reservation struct {
	ResourceID  string
	UserID      string
	RequestedAt time.Time
}

// Status is a consistent view of one resource and its lending data,
// read under the resource's lock.
type Status struct {
	Resource Resource
	Loan     *Loan
	Queue    []Reservation
}

// Head returns the first pending reservation, if any.
func (s Status) Head() (Reservation, bool) {
	if len(s.Queue) == 0 {
		return Reservation{}, false
	}
	return s.Queue[0], true
}
