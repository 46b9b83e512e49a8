package pricing

import "github.com/WessleyAI/wessley-valuation/engine/domain"

// Canonical feature names.
const (
	FeatureMileage   = "mileage_kmpl"
	FeatureEngineCC  = "engine_cc"
	FeatureOwners    = "owner_count"
	FeatureAccidents = "accidents_reported"
	FeatureCarAge    = "car_age"
)

// One-hot column prefixes.
const (
	PrefixBrand          = "brand_"
	PrefixFuelType       = "fuel_type_"
	PrefixTransmission   = "transmission_"
	PrefixServiceHistory = "service_history_"
)

// Encode converts r into sparse features: the five numeric fields plus one
// column set to 1 per categorical field. Categories r did not take are left
// out. Encode does not check names against any schema.
func Encode(r domain.Record) Sparse {
	accidents := 0.0
	if r.AccidentsReported {
		accidents = 1
	}
	return Sparse{
		FeatureMileage:   r.Mileage,
		FeatureEngineCC:  float64(r.EngineCC),
		FeatureOwners:    float64(r.OwnerCount),
		FeatureAccidents: accidents,
		FeatureCarAge:    float64(r.CarAge),

		PrefixBrand + r.Brand:                           1.0,
		PrefixFuelType + string(r.FuelType):             1.0,
		PrefixTransmission + string(r.Transmission):     1.0,
		PrefixServiceHistory + string(r.ServiceHistory): 1.0,
	}
}
