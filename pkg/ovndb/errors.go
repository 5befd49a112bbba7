package ovndb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ovn-org/libovsdb/client"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
)

// ErrNotFound is returned by a Northbound when a row lookup misses.
var ErrNotFound = client.ErrNotFound

// NewObjectNotFoundError reports a missing row of the given table.
func NewObjectNotFoundError(table, id string) *apierr.Error {
	return apierr.NotFound("%s %s does not exist", table, id)
}

// NewValidationError reports a value OVN would reject.
func NewValidationError(field string, value interface{}, message string) *apierr.Error {
	return apierr.BadRequestf("Invalid value %v for %s: %s", value, field, message)
}

// NewTransactionError classifies a failed Northbound operation.
//
// Row-not-found becomes ElementNotFound, schema value and type violations
// become BadRequest, timeouts become Timeout and a lost connection becomes
// BadGateway. Anything else is reported as BadGateway with the operation
// name attached.
func NewTransactionError(operation string, cause error) error {
	if cause == nil {
		return nil
	}
	var classified *apierr.Error
	if errors.As(cause, &classified) {
		return cause
	}
	switch {
	case errors.Is(cause, client.ErrNotFound):
		return apierr.Wrap(apierr.ElementNotFound, cause, "%s: row not found", operation)
	case errors.Is(cause, context.DeadlineExceeded):
		return apierr.Wrap(apierr.Timeout, cause, "%s: OVN Northbound operation timed out", operation)
	case errors.Is(cause, client.ErrNotConnected):
		return apierr.Wrap(apierr.BadGateway, cause, "%s: not connected to OVN Northbound", operation)
	case isValueError(cause):
		return apierr.Wrap(apierr.BadRequest, cause, "%s: %v", operation, cause)
	}
	return apierr.Wrap(apierr.BadGateway, cause, "%s: %v", operation, cause)
}

// valueErrors are the OVSDB and libovsdb error texts caused by a value the
// schema does not accept.
var valueErrors = []string{
	"constraint violation",
	"referential integrity violation",
	"syntax error",
	"domain error",
	"range error",
	"unable to update field",
	"wrong type",
	"is not a valid",
}

func isValueError(err error) bool {
	msg := err.Error()
	for _, v := range valueErrors {
		if strings.Contains(msg, v) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a row lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, client.ErrNotFound) || apierr.IsNotFound(err)
}

func notFound(table, id string, err error) error {
	if errors.Is(err, client.ErrNotFound) {
		return NewObjectNotFoundError(table, id)
	}
	return NewTransactionError(fmt.Sprintf("get %s %s", table, id), err)
}
