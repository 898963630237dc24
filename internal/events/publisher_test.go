package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisherKeysByTenant(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaPublisherWithWriter(w, "catalog-events")

	event := NewCatalogChanged("product", "shop-1", "replace", 12)
	require.NoError(t, p.Publish(context.Background(), event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "shop-1", string(w.msgs[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, TypeCatalogChanged, decoded.Type)
	assert.Equal(t, 12, decoded.Count)
	assert.NotEmpty(t, decoded.ID)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	p := NewKafkaPublisherWithWriter(&recordingWriter{err: errors.New("broker down")}, "catalog-events")

	err := p.Publish(context.Background(), NewCatalogChanged("faq", "shop-1", "delete", 1))
	assert.ErrorContains(t, err, "broker down")
}
