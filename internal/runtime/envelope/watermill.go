package envelope

import (
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/drblury/busflow/internal/runtime/ids"
)

// TransportMetadataPrefix namespaces the transport fields inside the
// string-only watermill metadata map. Keys under it are not headers.
const TransportMetadataPrefix = "MT-Transport-"

// Watermill metadata keys carrying envelope transport fields.
const (
	MetadataContentType      = TransportMetadataPrefix + "ContentType"
	MetadataCorrelationID    = TransportMetadataPrefix + "CorrelationId"
	MetadataLabel            = TransportMetadataPrefix + "Label"
	MetadataTimeToLive       = TransportMetadataPrefix + "TimeToLive"
	MetadataPartitionKey     = TransportMetadataPrefix + "PartitionKey"
	MetadataReplyTo          = TransportMetadataPrefix + "ReplyTo"
	MetadataReplyToSessionID = TransportMetadataPrefix + "ReplyToSessionId"
	MetadataSessionID        = TransportMetadataPrefix + "SessionId"
	MetadataForcePersistence = TransportMetadataPrefix + "ForcePersistence"
	MetadataSentTime         = TransportMetadataPrefix + "SentTime"
)

// FromWatermill builds an envelope from a watermill message. The payload slice
// is shared with msg. Only MetadataCorrelationID sets the correlation id; the
// watermill correlation_id key stays an ordinary header.
func FromWatermill(msg *message.Message) *Envelope {
	md := msg.Metadata
	env := &Envelope{
		Body:             msg.Payload,
		ContentType:      md.Get(MetadataContentType),
		Headers:          make(Headers, len(md)),
		MessageID:        msg.UUID,
		CorrelationID:    md.Get(MetadataCorrelationID),
		Label:            md.Get(MetadataLabel),
		PartitionKey:     md.Get(MetadataPartitionKey),
		ReplyTo:          md.Get(MetadataReplyTo),
		ReplyToSessionID: md.Get(MetadataReplyToSessionID),
		SessionID:        md.Get(MetadataSessionID),
	}
	if env.ContentType == "" {
		env.ContentType = DefaultContentType
	}
	if ttl, err := time.ParseDuration(md.Get(MetadataTimeToLive)); err == nil {
		env.TimeToLive = ttl
	}
	if force, err := strconv.ParseBool(md.Get(MetadataForcePersistence)); err == nil {
		env.ForcePersistence = force
	}
	if sent, err := time.Parse(time.RFC3339Nano, md.Get(MetadataSentTime)); err == nil {
		env.SentTime = sent
	}

	for k, v := range md {
		if strings.HasPrefix(k, TransportMetadataPrefix) {
			continue
		}
		env.Headers[k] = v
	}
	return env
}

// ToWatermill renders the envelope as a watermill message. A missing message id
// is replaced with a fresh ULID and a zero sent time with the current time.
func ToWatermill(env *Envelope) *message.Message {
	sent := env.SentTime
	if sent.IsZero() {
		sent = time.Now()
	}
	id := env.MessageID
	if id == "" {
		id = idspkg.CreateULIDAt(sent)
	}

	msg := message.NewMessage(id, env.Body)
	msg.Metadata = make(message.Metadata, len(env.Headers)+10)
	for k, v := range env.Headers {
		msg.Metadata[k] = FormatValue(v)
	}

	setIfNotEmpty(msg.Metadata, MetadataContentType, env.ContentType)
	setIfNotEmpty(msg.Metadata, MetadataCorrelationID, env.CorrelationID)
	setIfNotEmpty(msg.Metadata, MetadataLabel, env.Label)
	setIfNotEmpty(msg.Metadata, MetadataPartitionKey, env.PartitionKey)
	setIfNotEmpty(msg.Metadata, MetadataReplyTo, env.ReplyTo)
	setIfNotEmpty(msg.Metadata, MetadataReplyToSessionID, env.ReplyToSessionID)
	setIfNotEmpty(msg.Metadata, MetadataSessionID, env.SessionID)
	if env.TimeToLive > 0 {
		msg.Metadata[MetadataTimeToLive] = env.TimeToLive.String()
	}
	if env.ForcePersistence {
		msg.Metadata[MetadataForcePersistence] = "true"
	}
	msg.Metadata[MetadataSentTime] = sent.UTC().Format(time.RFC3339Nano)
	return msg
}

func setIfNotEmpty(md message.Metadata, key, value string) {
	if value != "" {
		md[key] = value
	}
}
