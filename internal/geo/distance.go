package geo

import "math"

const (
	// EarthRadiusKm is Earth's mean radius in kilometers for Haversine calculation.
	EarthRadiusKm = 6371.0
	// EarthRadiusMeters is the same radius in meters, used at telemetry scale.
	EarthRadiusMeters = 6371000.0
)

const degToRad = math.Pi / 180

// haversine returns the central angle in radians between two points given in degrees.
func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// HaversineKm calculates the great-circle distance between two points
// on Earth in kilometers. NaN inputs yield NaN.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return EarthRadiusKm * haversine(lat1, lng1, lat2, lng2)
}

// HaversineMeters is HaversineKm in meters.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	return EarthRadiusMeters * haversine(lat1, lng1, lat2, lng2)
}

// Offset moves a point by the given north/east displacement in meters.
// Accurate for the short steps of the telemetry simulation.
func Offset(lat, lng, northMeters, eastMeters float64) (float64, float64) {
	dLat := northMeters / EarthRadiusMeters / degToRad
	dLng := eastMeters / (EarthRadiusMeters * math.Cos(lat*degToRad)) / degToRad
	return lat + dLat, lng + dLng
}
