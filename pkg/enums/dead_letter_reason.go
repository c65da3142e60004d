package enums

type DeadLetterReason string

const (
	DeadLetterReasonPoison          DeadLetterReason = "poison"
	DeadLetterReasonNonRetryable    DeadLetterReason = "non_retryable"
	DeadLetterReasonMaxRedeliveries DeadLetterReason = "max_redeliveries"
)

var validDeadLetterReasons = []DeadLetterReason{
	DeadLetterReasonPoison,
	DeadLetterReasonNonRetryable,
	DeadLetterReasonMaxRedeliveries,
}

func (r DeadLetterReason) IsValid() bool {
	for _, candidate := range validDeadLetterReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
