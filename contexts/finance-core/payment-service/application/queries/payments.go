package queries

import (
	"context"
	"strings"

	"agora/contexts/finance-core/payment-service/domain/entities"
	domainerrors "agora/contexts/finance-core/payment-service/domain/errors"
	"agora/contexts/finance-core/payment-service/ports"
)

type PaymentQueryUseCase struct {
	Payments ports.PaymentRepository
}

func (uc PaymentQueryUseCase) GetPayment(ctx context.Context, reference string) (entities.PaymentRecord, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return entities.PaymentRecord{}, domainerrors.ErrInvalidPaymentInput
	}
	return uc.Payments.GetPayment(ctx, reference)
}
