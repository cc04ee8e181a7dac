// Package seed loads the fixed MetOffice regions and parameters. Seeding
// is idempotent; existing rows are left untouched.
package seed

import (
	"context"

	"github.com/shopspring/decimal"

	"metoffice-climate/internal/models"
	"metoffice-climate/internal/repository"
	"metoffice-climate/pkg/logging"
)

// Regions returns the UK regional series published by the MetOffice. Codes
// match the dataset file names exactly, underscores included.
func Regions() []*models.Region {
	return []*models.Region{
		{Name: "United Kingdom", Code: "UK", IsActive: true},
		{Name: "England", Code: "England", IsActive: true},
		{Name: "Wales", Code: "Wales", IsActive: true},
		{Name: "Scotland", Code: "Scotland", IsActive: true},
		{Name: "Northern Ireland", Code: "Northern_Ireland", IsActive: true},
	}
}

// Parameters returns the supported climate parameters with their validity
// ranges. Sunshine tops out at 744, a 31-day month of unbroken sun.
func Parameters() []*models.Parameter {
	return []*models.Parameter{
		{
			Code:        "Tmax",
			DisplayName: "Mean daily maximum temperature",
			Unit:        "degC",
			MinValid:    decimal.NewFromInt(-50),
			MaxValid:    decimal.NewFromInt(50),
			IsActive:    true,
		},
		{
			Code:        "Tmin",
			DisplayName: "Mean daily minimum temperature",
			Unit:        "degC",
			MinValid:    decimal.NewFromInt(-50),
			MaxValid:    decimal.NewFromInt(50),
			IsActive:    true,
		},
		{
			Code:        "Tmean",
			DisplayName: "Mean temperature",
			Unit:        "degC",
			MinValid:    decimal.NewFromInt(-50),
			MaxValid:    decimal.NewFromInt(50),
			IsActive:    true,
		},
		{
			Code:        "Rainfall",
			DisplayName: "Total rainfall",
			Unit:        "mm",
			MinValid:    decimal.Zero,
			MaxValid:    decimal.NewFromInt(1000),
			IsActive:    true,
		},
		{
			Code:        "Sunshine",
			DisplayName: "Total sunshine duration",
			Unit:        "hours",
			MinValid:    decimal.Zero,
			MaxValid:    decimal.NewFromInt(744),
			IsActive:    true,
		},
	}
}

// Run writes the seed rows through the repositories.
func Run(ctx context.Context, regions repository.RegionRepository, params repository.ParameterRepository, logger *logging.StructuredLogger) error {
	for _, region := range Regions() {
		if err := regions.Create(ctx, region); err != nil {
			return err
		}
	}
	for _, param := range Parameters() {
		if err := params.Create(ctx, param); err != nil {
			return err
		}
	}

	logger.Info(ctx, "[SEED_DONE] Seed data ensured", logging.Fields{
		"regions":    len(Regions()),
		"parameters": len(Parameters()),
	})

	return nil
}
