package onboarding

import (
	"strings"

	"pulse-onboard/internal/domain"
)

// FieldKind indica al screen que control dibujar.
type FieldKind string

const (
	KindText      FieldKind = "text"
	KindEmail     FieldKind = "email"
	KindMultiline FieldKind = "multiline"
	KindEnum      FieldKind = "enum"
	KindLocation  FieldKind = "location"
	KindReference FieldKind = "reference"
)

// Condition es un predicado declarativo: visible si Field == Equals.
type Condition struct {
	Field  string
	Equals string
}

func (c Condition) holds(r Registration) bool {
	return r.Value(c.Field) == c.Equals
}

type Option struct {
	Value string
	Label string
}

// FieldSpec describe un campo del formulario de registro.
type FieldSpec struct {
	Key             string
	Label           string
	Placeholder     string
	Kind            FieldKind
	Required        bool
	ReadOnly        bool
	RequiredMessage string
	Options         []Option
	VisibleWhen     *Condition
}

// Schema es el conjunto de campos para un rol. Es dato puro: dos Resolve del
// mismo rol son reflect.DeepEqual.
type Schema struct {
	Role   domain.Role
	Fields []FieldSpec
}

func baseFields() []FieldSpec {
	return []FieldSpec{
		{Key: FieldFirstName, Label: "First Name", Placeholder: "First Name", Kind: KindText, Required: true, RequiredMessage: "First name is required"},
		{Key: FieldLastName, Label: "Last Name", Placeholder: "Last Name", Kind: KindText, Required: true, RequiredMessage: "Last name is required"},
		{Key: FieldEmail, Label: "Email", Placeholder: "me@example.com", Kind: KindEmail, Required: true, ReadOnly: true, RequiredMessage: "Email is required"},
	}
}

func transportOptions() []Option {
	types := domain.MedTransportTypes()
	out := make([]Option, 0, len(types))
	for _, t := range types {
		out = append(out, Option{Value: string(t), Label: strings.ReplaceAll(string(t), "_", " ")})
	}
	return out
}

// Resolve es total sobre los tres roles; cualquier otro valor es un error.
func Resolve(role domain.Role) (Schema, error) {
	fields := baseFields()
	switch role {
	case domain.RoleHospital:
		fields = append(fields,
			FieldSpec{Key: FieldHospitalName, Label: "Hospital Name", Placeholder: "Hospital Name", Kind: KindText, Required: true, RequiredMessage: "Hospital name is required"},
			FieldSpec{Key: FieldLocation, Label: "Hospital Location", Placeholder: "Tap to select hospital address", Kind: KindLocation, Required: true, RequiredMessage: "Location is required"},
			FieldSpec{Key: FieldSpecialties, Label: "Specialties (comma-separated)", Placeholder: "e.g cardiology, neurology", Kind: KindText},
		)
	case domain.RoleMedTransport:
		fields = append(fields,
			FieldSpec{Key: FieldType, Label: "Type", Placeholder: "e.g private_ambulance", Kind: KindEnum, Required: true, RequiredMessage: "Type is required", Options: transportOptions()},
			FieldSpec{
				Key:             FieldHospital,
				Label:           "Linked Hospital",
				Placeholder:     "Select Hospital",
				Kind:            KindReference,
				Required:        true,
				RequiredMessage: "Linked hospital is required",
				VisibleWhen:     &Condition{Field: FieldType, Equals: string(domain.TransportPrivateAmbulance)},
			},
		)
	case domain.RolePatient:
		fields = append(fields,
			FieldSpec{Key: FieldPastHealthSummary, Label: "Past Health Summary", Placeholder: "Describe relevant history...", Kind: KindMultiline},
			FieldSpec{Key: FieldKnownAilments, Label: "Known Ailments (comma-separated)", Placeholder: "e.g hypertension, anemia", Kind: KindMultiline},
		)
	default:
		return Schema{}, domain.ErrUnknownRole
	}
	return Schema{Role: role, Fields: fields}, nil
}

// Field busca un campo por clave.
func (s Schema) Field(key string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// WithOptions devuelve una copia con las opciones de key reemplazadas.
func (s Schema) WithOptions(key string, opts []Option) Schema {
	out := Schema{Role: s.Role, Fields: make([]FieldSpec, len(s.Fields))}
	copy(out.Fields, s.Fields)
	for i := range out.Fields {
		if out.Fields[i].Key == key {
			out.Fields[i].Options = append([]Option(nil), opts...)
		}
	}
	return out
}

// IsVisible evalua VisibleWhen contra los valores actuales.
func (s Schema) IsVisible(key string, r Registration) bool {
	f, ok := s.Field(key)
	if !ok {
		return false
	}
	return f.VisibleWhen == nil || f.VisibleWhen.holds(r)
}

// Visible devuelve los campos visibles para los valores actuales.
func (s Schema) Visible(r Registration) []FieldSpec {
	out := make([]FieldSpec, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.VisibleWhen == nil || f.VisibleWhen.holds(r) {
			out = append(out, f)
		}
	}
	return out
}

// Required son las claves obligatorias entre los campos visibles.
func (s Schema) Required(r Registration) []string {
	var out []string
	for _, f := range s.Visible(r) {
		if f.Required {
			out = append(out, f.Key)
		}
	}
	return out
}

// Validate reporta errores por campo; los campos ocultos no se validan.
// El email se revalida aunque venga precargado y sea de solo lectura.
func (s Schema) Validate(r Registration) FieldErrors {
	errs := FieldErrors{}
	if r.Role() != s.Role {
		errs["role"] = "Registration does not match the selected role"
		return errs
	}
	for _, f := range s.Visible(r) {
		value := strings.TrimSpace(r.Value(f.Key))
		if f.Required && value == "" {
			errs[f.Key] = f.RequiredMessage
			continue
		}
		if value == "" {
			continue
		}
		switch f.Kind {
		case KindEmail:
			if !ValidEmail(value) {
				errs[f.Key] = "Invalid email"
			}
		case KindEnum, KindReference:
			if len(f.Options) > 0 && !hasOption(f.Options, value) {
				errs[f.Key] = "Select a valid " + strings.ToLower(f.Label)
			}
		case KindLocation:
			if msg := validateLocation(r.Location()); msg != "" {
				errs[f.Key] = msg
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func hasOption(opts []Option, value string) bool {
	for _, o := range opts {
		if o.Value == value {
			return true
		}
	}
	return false
}

func validateLocation(loc *domain.Location) string {
	if loc == nil || strings.TrimSpace(loc.FormattedAddress) == "" {
		return "Location is required"
	}
	if strings.TrimSpace(loc.PlaceID) == "" {
		return "Location is incomplete"
	}
	c := loc.Coordinates
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return "Location coordinates are invalid"
	}
	return ""
}
