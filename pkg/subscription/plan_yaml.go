package subscription

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLPlanSource loads the plan catalog from a YAML file.
//
// Expected format:
//
//	plans:
//	  - id: starter
//	    name: Starter
//	    monthly_price: 1000
//	    yearly_price: 10000
//	    currency: USD
//	    monthly_price_id: price_starter_m
//	    yearly_price_id: price_starter_y
//	    seated: true
//	    active: true
//	    limits:
//	      campaigns: 5
//	      leads: 1000
type YAMLPlanSource struct {
	path string
}

// NewYAMLPlanSource creates a plan source reading from the given file.
func NewYAMLPlanSource(path string) *YAMLPlanSource {
	if path == "" {
		panic("plan catalog path is required")
	}
	return &YAMLPlanSource{path: path}
}

type yamlPlanFile struct {
	Plans []yamlPlan `yaml:"plans"`
}

type yamlPlan struct {
	ID             string           `yaml:"id"`
	Name           string           `yaml:"name"`
	Description    string           `yaml:"description"`
	MonthlyPrice   int64            `yaml:"monthly_price"`
	YearlyPrice    int64            `yaml:"yearly_price"`
	Currency       string           `yaml:"currency"`
	MonthlyPriceID string           `yaml:"monthly_price_id"`
	YearlyPriceID  string           `yaml:"yearly_price_id"`
	Seated         bool             `yaml:"seated"`
	Active         bool             `yaml:"active"`
	Limits         map[string]int64 `yaml:"limits"`
}

// Plans reads and decodes the catalog file.
func (s *YAMLPlanSource) Plans(_ context.Context) ([]Plan, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, fmt.Errorf("read %s: %w", s.path, err))
	}

	var file yamlPlanFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, fmt.Errorf("parse %s: %w", s.path, err))
	}

	plans := make([]Plan, 0, len(file.Plans))
	for _, yp := range file.Plans {
		limits := make(map[Resource]int64, len(yp.Limits))
		for name, limit := range yp.Limits {
			limits[Resource(name)] = limit
		}
		plans = append(plans, Plan{
			ID:             yp.ID,
			Name:           yp.Name,
			Description:    yp.Description,
			MonthlyPrice:   Money{Amount: yp.MonthlyPrice, Currency: yp.Currency},
			YearlyPrice:    Money{Amount: yp.YearlyPrice, Currency: yp.Currency},
			MonthlyPriceID: yp.MonthlyPriceID,
			YearlyPriceID:  yp.YearlyPriceID,
			IsSeatedPlan:   yp.Seated,
			Limits:         limits,
			Active:         yp.Active,
		})
	}
	return plans, nil
}
