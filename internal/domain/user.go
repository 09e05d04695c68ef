package domain

// Coordinates en grados decimales.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location es la direccion estructurada devuelta por el buscador de lugares.
type Location struct {
	FormattedAddress string      `json:"formattedAddress"`
	Coordinates      Coordinates `json:"coordinates"`
	PlaceID          string      `json:"placeId"`
}

// ProfileFields es el registro plano que viaja en baseProfile y profileByRole.
// Todos los campos son opcionales en el wire.
type ProfileFields struct {
	ID        string `json:"_id,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role,omitempty"`

	HospitalName string    `json:"hospitalName,omitempty"`
	Location     *Location `json:"location,omitempty"`
	Specialties  string    `json:"specialties,omitempty"`

	Type     MedTransportType `json:"type,omitempty"`
	Hospital string           `json:"hospital,omitempty"`

	PastHealthSummary string `json:"pastHealthSummary,omitempty"`
	KnownAilments     string `json:"knownAilments,omitempty"`

	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// IsZero indica si no llego ningun campo.
func (p ProfileFields) IsZero() bool {
	return p == ProfileFields{}
}

// Hints son los datos que el backend devuelve para una cuenta nueva.
type Hints struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Hospital es un registro de GET /api/v1/hospitals.
type Hospital struct {
	ID           string    `json:"_id"`
	HospitalName string    `json:"hospitalName,omitempty"`
	Location     *Location `json:"location,omitempty"`
	Specialties  string    `json:"specialties,omitempty"`
}

// Label es el texto mostrado en el selector de hospital.
func (h Hospital) Label() string {
	if h.HospitalName == "" {
		return "Unknown Hospital"
	}
	return h.HospitalName
}
