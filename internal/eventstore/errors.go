package eventstore

import "errors"

// Sentinel errors returned by the registry, validator, event log, and
// dispatcher packages. HTTP handlers translate these to {error, code}
// response bodies via errors.Is.
var (
	ErrTopicNotFound      = errors.New("topic not found")
	ErrTopicAlreadyExists = errors.New("topic already exists")

	ErrSchemaNotFound   = errors.New("schema not found")
	ErrSchemaValidation = errors.New("payload failed schema validation")

	ErrInvalidRequest = errors.New("invalid request")

	ErrConsumerNotFound            = errors.New("consumer not found")
	ErrInvalidConsumerRegistration = errors.New("invalid consumer registration")

	ErrInternal = errors.New("internal error")
)

// Code maps a sentinel error to the stable string the HTTP surface puts in
// its {error, code} response body. Unrecognized errors map to "Internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrTopicNotFound):
		return "TopicNotFound"
	case errors.Is(err, ErrTopicAlreadyExists):
		return "TopicAlreadyExists"
	case errors.Is(err, ErrSchemaNotFound):
		return "SchemaNotFound"
	case errors.Is(err, ErrSchemaValidation):
		return "SchemaValidation"
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	case errors.Is(err, ErrConsumerNotFound):
		return "ConsumerNotFound"
	case errors.Is(err, ErrInvalidConsumerRegistration):
		return "InvalidConsumerRegistration"
	default:
		return "Internal"
	}
}

// StatusHint maps a sentinel error to an HTTP status per spec.md §7's policy:
// 404 for a missing topic, schema, or consumer, 400 for other validation and
// precondition errors, and 500 for anything else. Most handlers use it as is;
// PublishEvents reports the 404 cases as 400.
func StatusHint(err error) int {
	switch {
	case errors.Is(err, ErrTopicNotFound),
		errors.Is(err, ErrSchemaNotFound),
		errors.Is(err, ErrConsumerNotFound):
		return 404
	case errors.Is(err, ErrTopicAlreadyExists),
		errors.Is(err, ErrSchemaValidation),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidConsumerRegistration):
		return 400
	default:
		return 500
	}
}
