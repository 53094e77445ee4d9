package health

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type namedChecker struct {
	name    string
	checker Checker
}

// MultiChecker is healthy only while every checker it holds is healthy. Failures are reported against the name
// the checker was added under.
type MultiChecker struct {
	mu       sync.Mutex
	checkers []namedChecker
}

func NewMultiChecker() *MultiChecker {
	return &MultiChecker{}
}

func (mc *MultiChecker) Add(name string, checker Checker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.checkers = append(mc.checkers, namedChecker{name: name, checker: checker})
}

func (mc *MultiChecker) Check() error {
	mc.mu.Lock()
	checkers := append([]namedChecker{}, mc.checkers...)
	mc.mu.Unlock()

	var result *multierror.Error
	for _, c := range checkers {
		if err := c.checker.Check(); err != nil {
			result = multierror.Append(result, errors.WithMessage(err, c.name))
		}
	}
	if result == nil {
		return nil
	}
	result.ErrorFormat = func(errs []error) string {
		msg := ""
		for i, err := range errs {
			if i > 0 {
				msg += "\n"
			}
			msg += err.Error()
		}
		return msg
	}
	return result
}
