// Package domain defines the vehicle record a valuation is requested for,
// its closed enums, and the range checks the outer surfaces apply before a
// record reaches the pricing pipeline.
package domain

// FuelType is the powertrain fuel category.
type FuelType string

const (
	FuelPetrol   FuelType = "Petrol"
	FuelDiesel   FuelType = "Diesel"
	FuelElectric FuelType = "Electric"
)

// Transmission is the gearbox category.
type Transmission string

const (
	TransmissionAutomatic Transmission = "Automatic"
	TransmissionManual    Transmission = "Manual"
)

// ServiceHistory describes how completely the car's service record is documented.
type ServiceHistory string

const (
	ServiceFull    ServiceHistory = "Full"
	ServicePartial ServiceHistory = "Partial"
	ServiceUnknown ServiceHistory = "Unknown"
)

// FuelTypes, Transmissions and ServiceHistories list the closed enums in
// display order.
var (
	FuelTypes        = []FuelType{FuelPetrol, FuelDiesel, FuelElectric}
	Transmissions    = []Transmission{TransmissionAutomatic, TransmissionManual}
	ServiceHistories = []ServiceHistory{ServiceFull, ServicePartial, ServiceUnknown}
)

// Record is the caller-supplied description of a used car. It is a value
// type: the pipeline never mutates it. The validate tags mirror the enums
// and the bounds in makes.go.
type Record struct {
	Brand             string         `json:"brand" validate:"required"`
	FuelType          FuelType       `json:"fuel_type" validate:"oneof=Petrol Diesel Electric"`
	Transmission      Transmission   `json:"transmission" validate:"oneof=Automatic Manual"`
	Mileage           float64        `json:"mileage_kmpl" validate:"min=5,max=50"`
	EngineCC          int            `json:"engine_cc" validate:"min=600,max=6000"`
	OwnerCount        int            `json:"owner_count" validate:"min=1,max=5"`
	CarAge            int            `json:"car_age" validate:"min=0,max=30"`
	ServiceHistory    ServiceHistory `json:"service_history" validate:"oneof=Full Partial Unknown"`
	AccidentsReported bool           `json:"accidents_reported"`
}

// SampleRecord is a typical listing. pricectl estimate starts from it and
// overrides only the fields given as flags.
func SampleRecord() Record {
	return Record{
		Brand:             "Toyota",
		FuelType:          FuelPetrol,
		Transmission:      TransmissionAutomatic,
		Mileage:           18.0,
		EngineCC:          1600,
		OwnerCount:        1,
		CarAge:            5,
		ServiceHistory:    ServiceFull,
		AccidentsReported: false,
	}
}
