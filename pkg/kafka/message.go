package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// ErrEmptyImport is returned for an import message without records
var ErrEmptyImport = errors.New("import message has no records")

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	Import *models.ImportMessage
}

// ParseImport decodes the value as an import batch. A message carrying a single record instead of a
// batch is accepted too; the source then comes from the "source" header.
func (m *IncomingMessage) ParseImport() error {
	var msg models.ImportMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return err
	}

	if len(msg.Records) == 0 {
		var single models.ResolveRequest
		if err := json.Unmarshal(m.Value, &single); err == nil && single.Name != "" {
			msg.Records = []models.ResolveRequest{single}
		}
	}
	if len(msg.Records) == 0 {
		return ErrEmptyImport
	}

	if msg.Source == "" {
		msg.Source = m.Headers["source"]
	}
	for i := range msg.Records {
		if msg.Records[i].Source == "" {
			msg.Records[i].Source = msg.Source
		}
		if msg.Records[i].SourceRef == "" && m.Key != "" {
			msg.Records[i].SourceRef = m.Key
		}
	}

	m.Import = &msg
	return nil
}

// TypeSlug returns the record type shared by every record of the import, or "" when they differ.
func (m *IncomingMessage) TypeSlug() string {
	if m.Import == nil || len(m.Import.Records) == 0 {
		return ""
	}
	slug := m.Import.Records[0].TypeSlug
	for _, r := range m.Import.Records[1:] {
		if r.TypeSlug != slug {
			return ""
		}
	}
	return slug
}
