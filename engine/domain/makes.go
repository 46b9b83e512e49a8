package domain

// KnownBrands is the closed set of makes offered to users. The pricing
// pipeline itself does not enforce it: a brand the model was not trained
// on simply contributes no one-hot column.
var KnownBrands = []string{
	"BMW",
	"Chevrolet",
	"Ford",
	"Honda",
	"Hyundai",
	"Kia",
	"Mahindra",
	"Maruti",
	"Mercedes",
	"Nissan",
	"Renault",
	"Skoda",
	"Tata",
	"Tesla",
	"Toyota",
	"Volkswagen",
}

// Domain bounds for the numeric fields.
const (
	MinMileage    = 5.0
	MaxMileage    = 50.0
	MinEngineCC   = 600
	MaxEngineCC   = 6000
	MinOwnerCount = 1
	MaxOwnerCount = 5
	MinCarAge     = 0
	MaxCarAge     = 30
)

// IsKnownBrand reports whether brand is in KnownBrands.
func IsKnownBrand(brand string) bool {
	for _, b := range KnownBrands {
		if b == brand {
			return true
		}
	}
	return false
}
