package templates

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/practiceflow/notify-engine/internal/domain"
)

// Template is the title/body pair for one notification type.
type Template struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Rendered is a template with variables substituted.
type Rendered struct {
	Title   string
	Message string
	Missing []string
}

// Catalog maps notification types to templates. It is read-only after construction.
type Catalog struct {
	entries map[domain.NotificationType]Template
}

var defaultTemplates = map[domain.NotificationType]Template{
	domain.TypeAppointmentReminder: {
		Title: "Recordatorio de cita",
		Body:  "Hola {{patient_name}}, te recordamos tu cita para el {{date}} a las {{time}}.",
	},
	domain.TypePaymentDue: {
		Title: "Pago pendiente",
		Body:  "Hola {{patient_name}}, tenés un pago pendiente de {{amount}} con vencimiento el {{due_date}}.",
	},
	domain.TypeDocumentReady: {
		Title: "Documento disponible",
		Body:  "Hola {{patient_name}}, tu documento {{document_name}} ya está disponible.",
	},
	domain.TypeFollowup: {
		Title: "Seguimiento",
		Body:  "Hola {{patient_name}}, ¿cómo te sentiste después de la última sesión? Respondé este mensaje si necesitás algo.",
	},
	domain.TypeWelcome: {
		Title: "Bienvenida",
		Body:  "Hola {{patient_name}}, te damos la bienvenida al consultorio de {{professional_name}}.",
	},
	domain.TypeCustom: {
		Title: "{{title}}",
		Body:  "{{message}}",
	},
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	entries := make(map[domain.NotificationType]Template, len(defaultTemplates))
	for k, v := range defaultTemplates {
		entries[k] = v
	}
	return &Catalog{entries: entries}
}

// NewCatalog builds a catalog from overrides on top of the built-in templates.
// Unknown notification types are rejected.
func NewCatalog(overrides map[string]Template) (*Catalog, error) {
	c := DefaultCatalog()
	for rawType, tpl := range overrides {
		typ, err := domain.ParseNotificationType(rawType)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(tpl.Body) == "" {
			return nil, fmt.Errorf("%w: template body for %q is empty", domain.ErrValidation, typ)
		}
		c.entries[typ] = tpl
	}
	return c, nil
}

// LoadCatalog reads a JSON object keyed by notification type. An empty path
// yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog: %w", err)
	}

	var overrides map[string]Template
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}

	return NewCatalog(overrides)
}

func (c *Catalog) Get(typ domain.NotificationType) (Template, error) {
	tpl, ok := c.entries[typ]
	if !ok {
		return Template{}, fmt.Errorf("%w: no template for notification type %q", domain.ErrValidation, typ)
	}
	return tpl, nil
}

// Render selects the template for typ and fills it from vars.
func (c *Catalog) Render(typ domain.NotificationType, vars map[string]string) (Rendered, error) {
	tpl, err := c.Get(typ)
	if err != nil {
		return Rendered{}, err
	}

	return Rendered{
		Title:   Render(tpl.Title, vars),
		Message: Render(tpl.Body, vars),
		Missing: Missing(tpl.Title+" "+tpl.Body, vars),
	}, nil
}
