package cache

import (
	"bytes"
	"io"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/danribes/mystic-ecom-sub013/types"
	"github.com/danribes/mystic-ecom-sub013/utils"
)

// entryEnvelope is the stored form of one cache entry. Payload is the
// sonic-serialized caller value, optionally brotli-compressed when it beats
// the configured size threshold.
type entryEnvelope struct {
	Namespace  string    `json:"namespace"`
	Key        string    `json:"key"`
	Payload    []byte    `json:"payload"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

func encodeEntry(namespace, key string, payload []byte, compressMin int) ([]byte, error) {
	envelope := entryEnvelope{
		Namespace: namespace,
		Key:       key,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	if compressMin > 0 && len(payload) >= compressMin {
		var buf bytes.Buffer
		writer := brotli.NewWriter(&buf)
		if _, err := writer.Write(payload); err != nil {
			return nil, types.WrapError(err, "failed to compress cache payload")
		}
		if err := writer.Close(); err != nil {
			return nil, types.WrapError(err, "failed to finish cache compression")
		}

		// Keep the raw payload when compression does not pay for itself.
		if buf.Len() < len(payload) {
			envelope.Payload = buf.Bytes()
			envelope.Compressed = true
		}
	}

	return utils.Marshal(envelope)
}

func decodeEntry(data []byte) (*entryEnvelope, []byte, error) {
	var envelope entryEnvelope
	if err := utils.Unmarshal(data, &envelope); err != nil {
		return nil, nil, types.WrapError(err, "failed to decode cache entry")
	}

	if !envelope.Compressed {
		return &envelope, envelope.Payload, nil
	}

	payload, err := io.ReadAll(brotli.NewReader(bytes.NewReader(envelope.Payload)))
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to decompress cache payload")
	}

	return &envelope, payload, nil
}
