package expect

import (
	"fmt"
	"math"
	"time"

	"github.com/core-tools/hsu-procman/pkg/errors"
)

// Operator compares an observed value with an expected one
type Operator string

const (
	OperatorEqual        Operator = "="
	OperatorNotEqual     Operator = "!="
	OperatorLess         Operator = "<"
	OperatorGreater      Operator = ">"
	OperatorLessEqual    Operator = "<="
	OperatorGreaterEqual Operator = ">="
)

func ParseOperator(text string) (Operator, error) {
	switch operator := Operator(text); operator {
	case OperatorEqual, OperatorNotEqual, OperatorLess, OperatorGreater, OperatorLessEqual, OperatorGreaterEqual:
		return operator, nil
	default:
		return "", errors.NewConfigurationError("invalid comparison operator", nil).WithContext("operator", text)
	}
}

// Compare reports whether "actual operator expected" holds
func (o Operator) Compare(actual, expected float64) bool {
	switch o {
	case OperatorEqual:
		return actual == expected
	case OperatorNotEqual:
		return actual != expected
	case OperatorLess:
		return actual < expected
	case OperatorGreater:
		return actual > expected
	case OperatorLessEqual:
		return actual <= expected
	case OperatorGreaterEqual:
		return actual >= expected
	default:
		return false
	}
}

// FormatDuration renders a duration the way operators read run times
func FormatDuration(d time.Duration) string {
	s := d.Seconds()
	whole := int64(s)
	switch {
	case s >= 60480000:
		return fmt.Sprintf("%dw", whole/604800)
	case s >= 604800:
		return fmt.Sprintf("%2dw %2dd", whole/604800, (whole%604800)/86400)
	case s >= 86400:
		return fmt.Sprintf("%2dd %2dh", whole/86400, (whole%86400)/3600)
	case s >= 3600:
		return fmt.Sprintf("%2dh %02dm", whole/3600, (whole%3600)/60)
	case s >= 60:
		return fmt.Sprintf("%2dm %02ds", whole/60, whole%60)
	case s >= 15:
		return fmt.Sprintf("%3ds", int64(math.Round(s)))
	case s >= 0.01:
		return fmt.Sprintf("%4dms", d.Milliseconds())
	case s <= 0:
		return "0s"
	default:
		return fmt.Sprintf("%dμs", d.Microseconds())
	}
}
