package handlers

// Metadata keys and content types written by the busflow codecs.
const (
	// MetadataKeyMessageType identifies the Go type of the encoded message.
	// It is not reserved, so it survives envelope moves.
	MetadataKeyMessageType = "event_message_schema"

	// MetadataKeyTraceID stores distributed tracing ID.
	MetadataKeyTraceID = "trace_id"

	// MetadataKeySpanID stores distributed tracing span ID.
	MetadataKeySpanID = "span_id"
)

const (
	ContentTypeJSON      = "application/json"
	ContentTypeProtoJSON = "application/protobuf+json"
)
