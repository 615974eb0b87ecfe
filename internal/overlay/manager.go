package overlay

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/galaxycam/internal/logger"
)

// Manager handles overlay widgets and rendering. Widgets render in the
// order they were added.
type Manager struct {
	mu      sync.RWMutex
	widgets map[string]Widget
	order   []string
	enabled bool
	log     *zerolog.Logger
}

// NewManager creates a new overlay manager
func NewManager() *Manager {
	return &Manager{
		widgets: make(map[string]Widget),
		enabled: true,
		log:     logger.WithComponent("overlay"),
	}
}

// AddWidget adds a widget to the overlay
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.widgets[widget.ID()]; exists {
		return errors.Errorf("widget with ID %s already exists", widget.ID())
	}

	m.widgets[widget.ID()] = widget
	m.order = append(m.order, widget.ID())
	m.log.Info().Str("widget", widget.ID()).Str("type", widget.Type()).Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.widgets[id]; !exists {
		return errors.Errorf("widget with ID %s not found", id)
	}
	delete(m.widgets, id)
	for i, wid := range m.order {
		if wid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.log.Info().Str("widget", id).Msg("Removed widget")
	return nil
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	widget, exists := m.widgets[id]
	return widget, exists
}

// GetAllWidgets returns all widgets in render order
func (m *Manager) GetAllWidgets() []Widget {
	m.mu.RLock()
	defer m.mu.RUnlock()

	widgets := make([]Widget, 0, len(m.order))
	for _, id := range m.order {
		widgets = append(widgets, m.widgets[id])
	}
	return widgets
}

// UpdateWidget updates a widget's configuration. It holds the write lock so
// a frame is never rendered from a half-applied config.
func (m *Manager) UpdateWidget(id string, config map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	widget, exists := m.widgets[id]
	if !exists {
		return errors.Errorf("widget with ID %s not found", id)
	}
	if err := widget.UpdateConfig(config); err != nil {
		return errors.Wrap(err, "failed to update widget config")
	}

	m.log.Info().Str("widget", id).Msg("Updated widget")
	return nil
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	m.log.Info().Bool("enabled", enabled).Msg("Overlay toggled")
}

// IsEnabled returns whether the overlay is enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Render renders all enabled widgets onto the provided image. A failing
// widget is logged and skipped.
func (m *Manager) Render(img *image.RGBA, info FrameInfo) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled {
		return
	}

	for _, id := range m.order {
		widget := m.widgets[id]
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img, info); err != nil {
			m.log.Warn().Err(err).Str("widget", id).Msg("Failed to render widget")
		}
	}
}

// CreateWidget creates a new widget instance from configuration
func (m *Manager) CreateWidget(widgetType string, id string, config map[string]interface{}) (Widget, error) {
	var widget Widget
	var err error

	switch widgetType {
	case "text":
		widget, err = NewTextWidget(id, config)
	case "crosshair":
		widget, err = NewCrosshairWidget(id, config)
	default:
		return nil, errors.Errorf("unknown widget type: %s", widgetType)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s widget", widgetType)
	}
	return widget, nil
}

// LoadFromConfig creates widgets from their configurations. Bad entries are
// logged and skipped; the number of widgets added is returned.
func (m *Manager) LoadFromConfig(configs []map[string]interface{}) int {
	added := 0
	for _, config := range configs {
		widgetType, ok := config["type"].(string)
		if !ok {
			m.log.Warn().Msg("Skipping widget with missing type")
			continue
		}

		id, ok := config["id"].(string)
		if !ok {
			m.log.Warn().Str("type", widgetType).Msg("Skipping widget with missing ID")
			continue
		}

		widget, err := m.CreateWidget(widgetType, id, config)
		if err != nil {
			m.log.Warn().Err(err).Str("widget", id).Msg("Failed to create widget")
			continue
		}

		if err := m.AddWidget(widget); err != nil {
			m.log.Warn().Err(err).Str("widget", id).Msg("Failed to add widget")
			continue
		}
		added++
	}
	return added
}

// ExportConfig exports all widget configurations
func (m *Manager) ExportConfig() []map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]map[string]interface{}, 0, len(m.order))
	for _, id := range m.order {
		configs = append(configs, m.widgets[id].GetConfig())
	}
	return configs
}

// Clear removes all widgets
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.widgets = make(map[string]Widget)
	m.order = nil
	m.log.Info().Msg("Cleared all widgets")
}

// GetAvailableWidgetTypes returns a list of available widget types
func (m *Manager) GetAvailableWidgetTypes() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"type":        "text",
			"name":        "Text Label",
			"description": "Frame information rendered from a Go template",
			"config_schema": map[string]interface{}{
				"template":   "string - fields: .Serial .Seq .Time .Clock .Format .Width .Height .FPS .Rate",
				"position":   "top-left | top-right | bottom-left | bottom-right",
				"x":          "int (offset from the anchored corner)",
				"y":          "int (offset from the anchored corner)",
				"opacity":    "float (0.0-1.0)",
				"enabled":    "bool",
				"color":      "object {r, g, b, a}",
				"background": "object {r, g, b, a} (optional)",
				"padding":    "int",
			},
		},
		{
			"type":        "crosshair",
			"name":        "Crosshair",
			"description": "Alignment marker at the frame centre",
			"config_schema": map[string]interface{}{
				"size":      "int (pixels)",
				"thickness": "int (pixels)",
				"x":         "int (offset from centre)",
				"y":         "int (offset from centre)",
				"opacity":   "float (0.0-1.0)",
				"enabled":   "bool",
				"color":     "object {r, g, b, a}",
			},
		},
	}
}
