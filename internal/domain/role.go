package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifica el tipo de cuenta elegido durante el onboarding.
type Role string

const (
	RoleHospital     Role = "hospital"
	RoleMedTransport Role = "med_transport"
	RolePatient      Role = "patient"
)

var ErrUnknownRole = errors.New("unknown role")

// Roles devuelve la enumeracion cerrada en orden de presentacion.
func Roles() []Role {
	return []Role{RoleHospital, RoleMedTransport, RolePatient}
}

// ParseRole acepta el valor de wire, sin distinguir mayusculas.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleHospital, RoleMedTransport, RolePatient:
		return true
	}
	return false
}

// HomeRoute es la pantalla de aterrizaje por rol (p.ej. /patientHome).
func (r Role) HomeRoute() string {
	return "/" + string(r) + "Home"
}

// MedTransportType clasifica las unidades de transporte medico.
type MedTransportType string

const (
	TransportPrivateAmbulance  MedTransportType = "private_ambulance"
	TransportHospitalAmbulance MedTransportType = "hospital_ambulance"
	TransportPrivateVehicle    MedTransportType = "private_vehicle"
)

func MedTransportTypes() []MedTransportType {
	return []MedTransportType{TransportPrivateAmbulance, TransportHospitalAmbulance, TransportPrivateVehicle}
}

func (t MedTransportType) Valid() bool {
	for _, v := range MedTransportTypes() {
		if t == v {
			return true
		}
	}
	return false
}
