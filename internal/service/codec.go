package service

import (
	"fmt"
	"time"

	"ams_backend/internal/domain"
)

// BodyCodec seals message bodies before they reach the store.
// *security.Encryptor satisfies it; nil stores plain text.
type BodyCodec interface {
	Encrypt(plain string) (string, error)
	Decrypt(stored string) (string, error)
}

func seal(codec BodyCodec, body string) (string, error) {
	if codec == nil {
		return body, nil
	}
	sealed, err := codec.Encrypt(body)
	if err != nil {
		return "", fmt.Errorf("encrypt message: %w", err)
	}
	return sealed, nil
}

func open(codec BodyCodec, m *domain.Message) error {
	if codec == nil {
		return nil
	}
	plain, err := codec.Decrypt(m.Body)
	if err != nil {
		return fmt.Errorf("decrypt message %s: %w", m.ID, err)
	}
	m.Body = plain
	return nil
}

func openAll(codec BodyCodec, ms []*domain.Message) ([]*domain.Message, error) {
	for _, m := range ms {
		if err := open(codec, m); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

// timestamps are stored with millisecond precision by every backend
func clockNow(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Millisecond)
}
