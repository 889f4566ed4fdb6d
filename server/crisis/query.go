package crisis

// AlertQuery filters an alert listing. Latitude and Longitude must be given together.
type AlertQuery struct {
	Latitude  *float64    `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64    `json:"lng" validate:"omitempty,gte=-180,lte=180"`
	RadiusKm  float64     `json:"radius" validate:"gte=0"`
	Types     []AlertType `json:"types" validate:"max=8,dive,oneof=violence arrest medical checkpoint safe_zone danger_zone internet_shutdown other"`
	Severity  Severity    `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Page      int         `json:"page" validate:"gte=0"`
	Limit     int         `json:"limit" validate:"gte=0,lte=100"`
}

// Normalize fills paging defaults. Call before Validate.
func (q *AlertQuery) Normalize() {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	if q.HasCenter() && q.RadiusKm == 0 {
		q.RadiusKm = DefaultSearchRadiusKm
	}
}

// Validate checks the query against its field rules.
func (q *AlertQuery) Validate() error {
	if err := validateStruct(q); err != nil {
		return err
	}
	if (q.Latitude == nil) != (q.Longitude == nil) {
		return NewValidationError("lat", "lat and lng must be given together")
	}
	return nil
}

// HasCenter reports whether the query is a proximity query.
func (q *AlertQuery) HasCenter() bool {
	return q.Latitude != nil && q.Longitude != nil
}

// Center returns the proximity center. Only meaningful when HasCenter is true.
func (q *AlertQuery) Center() Location {
	var loc Location
	if q.Latitude != nil {
		loc.Latitude = *q.Latitude
	}
	if q.Longitude != nil {
		loc.Longitude = *q.Longitude
	}
	return loc
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NearbyQuery locates active SOS broadcasts around a point.
type NearbyQuery struct {
	Location Location `json:"location"`
	RadiusKm float64  `json:"radius" validate:"gte=0"`
}

// Normalize fills defaults. Call before Validate.
func (q *NearbyQuery) Normalize() {
	if q.RadiusKm == 0 {
		q.RadiusKm = DefaultSearchRadiusKm
	}
}

// Validate checks the query against its field rules.
func (q *NearbyQuery) Validate() error {
	return validateStruct(q)
}
