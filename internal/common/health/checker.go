package health

// Checker is implemented by anything that can report whether it is currently able to do its job.
type Checker interface {
	Check() error
}

// CheckerFunc adapts an ordinary function to a Checker.
type CheckerFunc func() error

func (f CheckerFunc) Check() error {
	return f()
}
