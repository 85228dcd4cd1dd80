package otel

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String("method", method)
}

func errorCodeAttr(code int) attribute.KeyValue {
	return attribute.String("error_code", strconv.Itoa(code))
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String("state", state)
}
