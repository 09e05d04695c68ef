package onboarding

import (
	"fmt"
	"strings"

	"pulse-onboard/internal/domain"
)

// Claves de campo del formulario; coinciden con el JSON de ProfileFields.
const (
	FieldFirstName         = "firstName"
	FieldLastName          = "lastName"
	FieldEmail             = "email"
	FieldHospitalName      = "hospitalName"
	FieldLocation          = "location"
	FieldSpecialties       = "specialties"
	FieldType              = "type"
	FieldHospital          = "hospital"
	FieldPastHealthSummary = "pastHealthSummary"
	FieldKnownAilments     = "knownAilments"
)

// Placement decide donde viajan los campos de rol en el payload.
type Placement string

const (
	// PlacementBase anida todo en baseProfile y manda profileByRole vacio.
	PlacementBase Placement = "base"
	// PlacementByRole deja identidad y rol en baseProfile y el resto en profileByRole.
	PlacementByRole Placement = "by_role"
)

// ParsePlacement acepta los valores de ROLE_FIELDS_PLACEMENT.
func ParsePlacement(s string) (Placement, error) {
	switch p := Placement(strings.ToLower(strings.TrimSpace(s))); p {
	case PlacementBase, PlacementByRole:
		return p, nil
	case "":
		return PlacementBase, nil
	default:
		return "", fmt.Errorf("unknown placement %q", s)
	}
}

// BaseFields son los campos de identidad comunes a todos los roles.
type BaseFields struct {
	FirstName string
	LastName  string
	Email     string
}

// RoleFields es la union etiquetada de los tres perfiles de rol.
type RoleFields interface {
	Role() domain.Role
	value(key string) (string, bool)
	with(key, value string) (RoleFields, bool)
	apply(p *domain.ProfileFields, visible func(string) bool)
}

type HospitalFields struct {
	HospitalName string
	Location     *domain.Location
	Specialties  string
}

func (HospitalFields) Role() domain.Role { return domain.RoleHospital }

func (f HospitalFields) value(key string) (string, bool) {
	switch key {
	case FieldHospitalName:
		return f.HospitalName, true
	case FieldLocation:
		if f.Location == nil {
			return "", true
		}
		return f.Location.FormattedAddress, true
	case FieldSpecialties:
		return f.Specialties, true
	}
	return "", false
}

func (f HospitalFields) with(key, value string) (RoleFields, bool) {
	switch key {
	case FieldHospitalName:
		f.HospitalName = value
	case FieldSpecialties:
		f.Specialties = value
	default:
		return f, false
	}
	return f, true
}

func (f HospitalFields) apply(p *domain.ProfileFields, _ func(string) bool) {
	p.HospitalName = strings.TrimSpace(f.HospitalName)
	if f.Location != nil {
		loc := *f.Location
		loc.FormattedAddress = strings.TrimSpace(loc.FormattedAddress)
		p.Location = &loc
	}
	p.Specialties = JoinList(f.Specialties)
}

type MedTransportFields struct {
	Type     domain.MedTransportType
	Hospital string
}

func (MedTransportFields) Role() domain.Role { return domain.RoleMedTransport }

func (f MedTransportFields) value(key string) (string, bool) {
	switch key {
	case FieldType:
		return string(f.Type), true
	case FieldHospital:
		return f.Hospital, true
	}
	return "", false
}

func (f MedTransportFields) with(key, value string) (RoleFields, bool) {
	switch key {
	case FieldType:
		f.Type = domain.MedTransportType(value)
	case FieldHospital:
		f.Hospital = value
	default:
		return f, false
	}
	return f, true
}

func (f MedTransportFields) apply(p *domain.ProfileFields, visible func(string) bool) {
	p.Type = domain.MedTransportType(strings.TrimSpace(string(f.Type)))
	if visible(FieldHospital) {
		p.Hospital = strings.TrimSpace(f.Hospital)
	}
}

type PatientFields struct {
	PastHealthSummary string
	KnownAilments     string
}

func (PatientFields) Role() domain.Role { return domain.RolePatient }

func (f PatientFields) value(key string) (string, bool) {
	switch key {
	case FieldPastHealthSummary:
		return f.PastHealthSummary, true
	case FieldKnownAilments:
		return f.KnownAilments, true
	}
	return "", false
}

func (f PatientFields) with(key, value string) (RoleFields, bool) {
	switch key {
	case FieldPastHealthSummary:
		f.PastHealthSummary = value
	case FieldKnownAilments:
		f.KnownAilments = value
	default:
		return f, false
	}
	return f, true
}

func (f PatientFields) apply(p *domain.ProfileFields, _ func(string) bool) {
	p.PastHealthSummary = strings.TrimSpace(f.PastHealthSummary)
	p.KnownAilments = JoinList(f.KnownAilments)
}

// Registration son los valores actuales del formulario.
type Registration struct {
	Base   BaseFields
	Fields RoleFields
}

// InitialValues siembra el formulario con los hints y el perfil de rol vacio.
func InitialValues(role domain.Role, hints domain.Hints) (Registration, error) {
	var fields RoleFields
	switch role {
	case domain.RoleHospital:
		fields = HospitalFields{}
	case domain.RoleMedTransport:
		fields = MedTransportFields{}
	case domain.RolePatient:
		fields = PatientFields{}
	default:
		return Registration{}, domain.ErrUnknownRole
	}
	return Registration{
		Base: BaseFields{
			FirstName: hints.FirstName,
			LastName:  hints.LastName,
			Email:     hints.Email,
		},
		Fields: fields,
	}, nil
}

func (r Registration) Role() domain.Role {
	if r.Fields == nil {
		return ""
	}
	return r.Fields.Role()
}

// Value devuelve el valor textual de un campo ("" si no existe).
func (r Registration) Value(key string) string {
	switch key {
	case FieldFirstName:
		return r.Base.FirstName
	case FieldLastName:
		return r.Base.LastName
	case FieldEmail:
		return r.Base.Email
	}
	if r.Fields == nil {
		return ""
	}
	v, _ := r.Fields.value(key)
	return v
}

// Set actualiza un campo de texto. Location usa SetLocation.
func (r *Registration) Set(key, value string) error {
	switch key {
	case FieldFirstName:
		r.Base.FirstName = value
		return nil
	case FieldLastName:
		r.Base.LastName = value
		return nil
	case FieldEmail:
		return ErrReadOnlyField
	}
	if r.Fields == nil {
		return ErrUnknownField
	}
	next, ok := r.Fields.with(key, value)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	r.Fields = next
	return nil
}

// SetLocation solo aplica a hospitales.
func (r *Registration) SetLocation(loc domain.Location) error {
	f, ok := r.Fields.(HospitalFields)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, FieldLocation)
	}
	f.Location = &loc
	r.Fields = f
	return nil
}

// Location devuelve la ubicacion elegida, si el rol la tiene.
func (r Registration) Location() *domain.Location {
	if f, ok := r.Fields.(HospitalFields); ok {
		return f.Location
	}
	return nil
}

// Profiles arma baseProfile y profileByRole segun placement. Los campos
// ocultos no viajan.
func (r Registration) Profiles(placement Placement, visible func(string) bool) (domain.ProfileFields, domain.ProfileFields) {
	if visible == nil {
		visible = func(string) bool { return true }
	}
	base := domain.ProfileFields{
		FirstName: strings.TrimSpace(r.Base.FirstName),
		LastName:  strings.TrimSpace(r.Base.LastName),
		Email:     strings.TrimSpace(r.Base.Email),
		Role:      r.Role(),
	}
	if r.Fields == nil {
		return base, domain.ProfileFields{}
	}
	if placement == PlacementByRole {
		var byRole domain.ProfileFields
		r.Fields.apply(&byRole, visible)
		return base, byRole
	}
	r.Fields.apply(&base, visible)
	return base, domain.ProfileFields{}
}
