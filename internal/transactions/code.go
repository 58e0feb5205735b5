package transactions

import (
	"context"
	"errors"
	"fmt"
)

const (
	codePrefix     = "TRX"
	codeSuffixLen  = 4
	maxCodeRetries = 8
)

// allocateCode inserts the transaction header under a fresh
// TRX-YYYYMMDD-XXXX code, retrying on collision.
func (s *Service) allocateCode(ctx context.Context, tx Tx, t *Transaction) error {
	day := t.CreatedAt.Format("20060102")
	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		t.Code = fmt.Sprintf("%s-%s-%s", codePrefix, day, s.suffix(codeSuffixLen))
		err := tx.InsertTransaction(ctx, *t)
		if errors.Is(err, ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return fmt.Errorf("transactions: insert header: %w", err)
		}
		return nil
	}
	return ErrCodeSpaceExhausted
}
