/**
 * @description
 * Service fee resolution for invoice generation. The fee for a contract is
 * decided by its service category's active fee config; a category with no
 * usable config falls back to the flat default percentage rather than
 * blocking invoice generation.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/internal/store"
)

// FeeCalculator resolves the platform service fee for a contract.
type FeeCalculator struct {
	repo store.Repository
}

// NewFeeCalculator creates a fee calculator backed by the fee config store.
func NewFeeCalculator(repo store.Repository) *FeeCalculator {
	return &FeeCalculator{repo: repo}
}

// FeeForCategory returns the service fee for a salary under the category's
// fee policy in force at asOf. A missing config is not an error: the
// fallback percentage applies so payroll generation never stalls on fee
// configuration gaps.
func (f *FeeCalculator) FeeForCategory(ctx context.Context, categoryID uuid.UUID, salary int64, asOf time.Time) (int64, error) {
	cfg, err := f.repo.GetActiveFeeConfig(ctx, categoryID, asOf)
	if err != nil {
		if errors.Is(err, store.ErrFeeConfigNotFound) {
			log.Printf("level=warn component=fee_calculator msg=\"no active fee config, using fallback\" category_id=%s fallback_percent=%d", categoryID, domain.DefaultFeePercent)
			return domain.FallbackFee(salary), nil
		}
		return 0, fmt.Errorf("failed to load fee config: %w", err)
	}
	return cfg.ComputeFee(salary), nil
}
