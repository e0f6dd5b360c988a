// Package bazaerr defines the error kinds shared across the baza storage
// and sync engine.
//
// Every fallible operation in baza returns one of these kinds (wrapped with
// context via fmt.Errorf("...: %w", ...)) so that callers can branch with
// errors.Is/errors.As instead of parsing messages. Validation and lock
// errors are meant to be shown to a user; crypto and integrity errors
// poison the owning *baza.Baza handle.
package bazaerr
