package es

import "fmt"

// ExpectedVersion is the caller's optional expectation about a stream's last changeset id.
// It drives optimistic concurrency control on append.
type ExpectedVersion struct {
	value int64
}

// expectedVersionAny means no expectation was supplied
const expectedVersionAny = -1

// Any returns an ExpectedVersion that skips the version check.
// Appends without an expectation are retried internally when they lose a race.
func Any() ExpectedVersion {
	return ExpectedVersion{value: expectedVersionAny}
}

// Exact returns an ExpectedVersion requiring the stream's last changeset id to be exactly id.
// Exact(0) requires the stream to have no changesets.
func Exact(id int64) ExpectedVersion {
	if id < 0 {
		panic(fmt.Sprintf("expected changeset id must be non-negative, got %d", id))
	}
	return ExpectedVersion{value: id}
}

// NoStream is shorthand for Exact(0).
func NoStream() ExpectedVersion {
	return Exact(0)
}

// IsAny reports whether no expectation was supplied.
func (ev ExpectedVersion) IsAny() bool {
	return ev.value == expectedVersionAny
}

// IsExact reports whether an expected changeset id was supplied.
func (ev ExpectedVersion) IsExact() bool {
	return ev.value >= 0
}

// Value returns the expected changeset id. Returns 0 for Any.
func (ev ExpectedVersion) Value() int64 {
	if ev.value >= 0 {
		return ev.value
	}
	return 0
}

// String returns a string representation of the ExpectedVersion.
func (ev ExpectedVersion) String() string {
	if ev.IsAny() {
		return "Any"
	}
	return fmt.Sprintf("Exact(%d)", ev.value)
}
